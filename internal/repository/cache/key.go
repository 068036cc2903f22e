package cache

import (
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/jaennil/guide_helper/tilestream/internal/tile"
)

// Key is the request cache key of a tile payload: a digest of the dataset,
// the coordinate and the requested format. Fields are length prefixed so
// no value can spill into its neighbour.
func Key(dataset string, c tile.Coordinate, format string) string {
	d := xxhash.New()
	writeField(d, dataset)
	writeField(d, c.String())
	writeField(d, format)
	return strconv.FormatUint(d.Sum64(), 16)
}

func writeField(d *xxhash.Digest, s string) {
	_, _ = d.WriteString(strconv.Itoa(len(s)))
	_, _ = d.WriteString(":")
	_, _ = d.WriteString(s)
}
