package tape

// copyItem copies n bytes from src to dst.
// Common item sizes are copied as fixed width arrays so the compiler emits straight moves.
func copyItem(dst, src []byte, n int) {
	switch n {
	case 0:
	case 1:
		dst[0] = src[0]
	case 2:
		*(*[2]byte)(dst) = *(*[2]byte)(src)
	case 3:
		*(*[3]byte)(dst) = *(*[3]byte)(src)
	case 4:
		*(*[4]byte)(dst) = *(*[4]byte)(src)
	case 6:
		*(*[6]byte)(dst) = *(*[6]byte)(src)
	case 8:
		*(*[8]byte)(dst) = *(*[8]byte)(src)
	case 12:
		*(*[12]byte)(dst) = *(*[12]byte)(src)
	case 16:
		*(*[16]byte)(dst) = *(*[16]byte)(src)
	case 20:
		*(*[20]byte)(dst) = *(*[20]byte)(src)
	default:
		copy(dst[:n], src[:n])
	}
}
