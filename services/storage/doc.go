/*
The storage package provides a namespaced key/value interface for runtime metadata,
such as the iteration each thread restarts from.

A BoltDB backed implementation is provided for persistent use and an in memory
implementation for tests and single process runs.
*/
package storage
