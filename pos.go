package anvil

import "fmt"

// Chunk the position of a chunk.
type Chunk struct{ X, Z int32 }

// Region gets the position of the region file that contains this chunk.
func (c *Chunk) Region() Region { return Region{c.X >> 5, c.Z >> 5} }

// Pos gets the position of the chunk within its region file.
// The returned values are always between 0 and 31 (inclusive).
func (c *Chunk) Pos() (x, z uint8) { return uint8(c.X & 0x1f), uint8(c.Z & 0x1f) }

// Region the position of a region file.
// Normally the x and z values are the x and z values in the filename of the region file.
type Region struct{ X, Z int32 }

// Chunk gets the chunk position for the given position within this region.
func (r *Region) Chunk(x, z uint8) Chunk { return Chunk{r.X<<5 | int32(x), r.Z<<5 | int32(z)} }

// Name returns the filename of the region file at this position.
func (r *Region) Name() string { return fmt.Sprintf("r.%d.%d.mca", r.X, r.Z) }

// ParseRegionName parses a region file name of the form `r.<x>.<z>.mca`.
func ParseRegionName(name string) (rg Region, ok bool) {
	if _, err := fmt.Sscanf(name, "r.%d.%d.mca", &rg.X, &rg.Z); err != nil {
		return Region{}, false
	}
	return rg, rg.Name() == name
}
