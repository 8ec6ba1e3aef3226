/*
Package streamit executes compiled stream graphs.

A Graph is an arena of nodes: filters, which run user work functions, and the
three composites that arrange them, pipelines, splitjoins and feedback loops.
Nodes communicate through tapes, fixed capacity circular buffers sized from
the declared peek, pop and push rates of their endpoints.

The scheduler runs the graph one steady state iteration at a time. Every
source fires once per iteration and every other node fires while its input
holds enough items and its output has room, visiting children in the order
they were added.

Control messages travel independently of data through portals. A message is
delivered to every receiver of a portal at an iteration of the receiver chosen
from the intersection of the sender's and the receiver's latency constraints.
*/
package streamit
