package omni

import (
	"strconv"
)

// FormatStatus renders measured wheel speeds as "1:<rpm>;2:<rpm>;3:<rpm>", one id:rpm pair per
// wheel with the speed truncated toward zero.
func FormatStatus(ids []int, rpms []float64) []byte {
	line := make([]byte, 0, 8*len(ids))
	for i, id := range ids {
		if i > 0 {
			line = append(line, ';')
		}
		line = strconv.AppendInt(line, int64(id), 10)
		line = append(line, ':')
		line = strconv.AppendInt(line, int64(rpms[i]), 10)
	}
	return line
}
