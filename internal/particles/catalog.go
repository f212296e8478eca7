package particles

// CatalogRow describes one extracted particle: which dataset and object
// it came from, where the source and output volumes live, and where the
// box sits in the source volume.
type CatalogRow struct {
	Identifier   string
	GroupName    string
	ID           int32
	TomoPath     string
	ParticlePath string
	LeftX        int
	LeftY        int
	LeftZ        int
}

// Catalog is the append-only particle table accumulated across an
// extraction batch. Rows arrive in dataset/object iteration order;
// there are no concurrent writers.
type Catalog struct {
	rows []CatalogRow
}

// Append adds rows to the end of the table.
func (c *Catalog) Append(rows ...CatalogRow) {
	c.rows = append(c.rows, rows...)
}

// Rows returns the accumulated table. The slice is shared; callers
// treat it as read-only.
func (c *Catalog) Rows() []CatalogRow { return c.rows }

// Len returns the number of catalogued particles.
func (c *Catalog) Len() int { return len(c.rows) }
