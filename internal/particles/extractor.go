package particles

import (
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/clem-data/clempick/internal/mrc"
	"github.com/clem-data/clempick/internal/security"
)

// DType names the numeric sample type particles are cast to on output.
type DType string

const (
	DTypeInt8    DType = "int8"
	DTypeInt16   DType = "int16"
	DTypeUint16  DType = "uint16"
	DTypeFloat32 DType = "float32"
)

func (d DType) mrcMode() (int32, error) {
	switch d {
	case DTypeInt8:
		return mrc.ModeInt8, nil
	case DTypeInt16:
		return mrc.ModeInt16, nil
	case DTypeUint16:
		return mrc.ModeUint16, nil
	case DTypeFloat32, "":
		return mrc.ModeFloat32, nil
	}
	return 0, &ConfigurationError{Reason: fmt.Sprintf("unknown particle dtype %q", d)}
}

// bounds returns the representable range of the dtype. bounded is
// false for float32, which is written without clipping.
func (d DType) bounds() (lo, hi float64, bounded bool) {
	switch d {
	case DTypeInt8:
		return math.MinInt8, math.MaxInt8, true
	case DTypeInt16:
		return math.MinInt16, math.MaxInt16, true
	case DTypeUint16:
		return 0, math.MaxUint16, true
	}
	return 0, 0, false
}

// ConfigurationError reports an invalid extraction setup: an unknown
// dataset identifier, a bad dtype, or missing required parameters.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// ZeroVarianceError reports a particle whose samples are constant, so
// the requested standard-deviation normalization would divide by zero.
type ZeroVarianceError struct {
	ID int32
}

func (e *ZeroVarianceError) Error() string {
	return fmt.Sprintf("particle id %d has zero variance; cannot normalize std", e.ID)
}

// ClipWarning records an out-of-range intensity cast. It is reported
// and counted but never aborts anything.
type ClipWarning struct {
	ParticlePath string
	DType        DType
	Clipped      int
}

func (w ClipWarning) Error() string {
	return fmt.Sprintf("%d samples of %s clipped to the %s range", w.Clipped, w.ParticlePath, w.DType)
}

// ObjectError wraps a per-object extraction failure. The remaining
// objects of the dataset still run; whether the batch continues after
// failures is the caller's decision.
type ObjectError struct {
	ID  int32
	Err error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("object %d: %v", e.ID, e.Err)
}

func (e *ObjectError) Unwrap() error { return e.Err }

// Dataset is one tomogram with its segmentation labels and the object
// ids to extract.
type Dataset struct {
	Identifier string
	LabelPath  string
	IDs        []int32
}

// Group is a named collection of datasets (one experimental condition).
type Group struct {
	Name     string
	Datasets []Dataset
}

// TomoPathResolver maps a dataset identifier to its tomogram path. It
// is injected so the extractor never guesses at file layouts itself.
type TomoPathResolver func(identifier string) (string, error)

// Config carries the extraction parameters shared by a batch.
type Config struct {
	// BoxSize is the cubic particle edge length in voxels.
	BoxSize int
	// ParticleDir receives the particle files; created if absent.
	ParticleDir string
	// DirMode is the mode of created directories. Zero means 0775.
	DirMode os.FileMode

	// DType casts tomo particles on output; empty keeps float32.
	DType DType
	// Std, when set, rescales each particle so its sample standard
	// deviation equals the target, before any mean shift.
	Std *float64
	// Mean, when set, shifts each particle so its sample mean equals
	// the target.
	Mean *float64

	// KeepIDs uses original object ids in file names; otherwise
	// particles are numbered from 0 in extraction order.
	KeepIDs bool

	// WriteLabels additionally extracts the label mask of each object,
	// remapped to LabelFg/LabelBkg and written with a "_label" suffix.
	WriteLabels bool
	LabelDType  DType
	LabelFg     float32
	LabelBkg    float32

	ResolveTomoPath TomoPathResolver
}

// Extractor slices particle sub-volumes out of tomograms at label
// positions and accumulates the particle catalog.
type Extractor struct {
	cfg   Config
	runID string

	Catalog      Catalog
	LabelCatalog Catalog
}

// NewExtractor validates the configuration and returns an extractor
// with a fresh run identifier.
func NewExtractor(cfg Config) (*Extractor, error) {
	if cfg.BoxSize <= 0 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("box size must be positive, got %d", cfg.BoxSize)}
	}
	if cfg.ParticleDir == "" {
		return nil, &ConfigurationError{Reason: "particle directory not set"}
	}
	if cfg.ResolveTomoPath == nil {
		return nil, &ConfigurationError{Reason: "tomo path resolver not set"}
	}
	if _, err := cfg.DType.mrcMode(); err != nil {
		return nil, err
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = 0o775
	}
	if cfg.LabelDType == "" {
		cfg.LabelDType = DTypeInt16
	}
	if _, err := cfg.LabelDType.mrcMode(); err != nil {
		return nil, err
	}
	return &Extractor{cfg: cfg, runID: uuid.NewString()}, nil
}

// RunID identifies this extraction batch in persisted catalogs.
func (e *Extractor) RunID() string { return e.runID }

// DatasetResult summarizes one dataset's extraction.
type DatasetResult struct {
	Identifier string
	GroupName  string
	Extracted  int
	Clipped    []ClipWarning
	Failed     []*ObjectError
}

// ExtractBatch extracts every requested identifier, resolving each
// against the configured groups. An identifier that belongs to no
// group is a ConfigurationError. Dataset-level failures abort the
// batch; per-object failures are recorded in the result and the
// dataset continues.
func (e *Extractor) ExtractBatch(groups []Group, identifiers []string) ([]DatasetResult, error) {
	results := make([]DatasetResult, 0, len(identifiers))
	for _, ident := range identifiers {
		group, ds := findDataset(groups, ident)
		if ds == nil {
			return results, &ConfigurationError{
				Reason: fmt.Sprintf("identifier %q does not belong to any of the configured groups", ident),
			}
		}
		res, err := e.ExtractDataset(group, *ds)
		if err != nil {
			return results, fmt.Errorf("dataset %s: %w", ident, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func findDataset(groups []Group, identifier string) (string, *Dataset) {
	for gi := range groups {
		for di := range groups[gi].Datasets {
			if groups[gi].Datasets[di].Identifier == identifier {
				return groups[gi].Name, &groups[gi].Datasets[di]
			}
		}
	}
	return "", nil
}

// ExtractDataset extracts all objects of one dataset. The tomogram is
// opened for the duration of the call and released before returning.
func (e *Extractor) ExtractDataset(groupName string, ds Dataset) (DatasetResult, error) {
	res := DatasetResult{Identifier: ds.Identifier, GroupName: groupName}

	tomoPath, err := e.cfg.ResolveTomoPath(ds.Identifier)
	if err != nil {
		return res, fmt.Errorf("resolve tomo path: %w", err)
	}

	labelVol, err := mrc.Open(ds.LabelPath)
	if err != nil {
		return res, fmt.Errorf("open labels: %w", err)
	}
	labels, err := labelVol.ReadLabels()
	labelHdr := labelVol.Header()
	labelShape := labelVol.Shape()
	labelVol.Close()
	if err != nil {
		return res, fmt.Errorf("read labels: %w", err)
	}

	tomo, err := mrc.Open(tomoPath)
	if err != nil {
		return res, fmt.Errorf("open tomo: %w", err)
	}
	defer tomo.Close()

	shape := tomo.Shape()
	if shape != labelShape {
		return res, fmt.Errorf("tomo shape %v does not match label shape %v", shape, labelShape)
	}
	for axis := 0; axis < 3; axis++ {
		if e.cfg.BoxSize > shape[axis] {
			return res, &BoxTooLargeError{BoxSize: e.cfg.BoxSize, Shape: shape}
		}
	}

	if err := os.MkdirAll(e.cfg.ParticleDir, e.cfg.DirMode); err != nil {
		return res, fmt.Errorf("create particle dir: %w", err)
	}

	digits := nameDigits(ds.IDs, e.cfg.KeepIDs)
	for rank, id := range ds.IDs {
		warns, err := e.extractObject(objectContext{
			dataset:   ds,
			groupName: groupName,
			tomoPath:  tomoPath,
			tomo:      tomo,
			labels:    labels,
			labelHdr:  labelHdr,
			shape:     shape,
			id:        id,
			rank:      rank,
			digits:    digits,
		})
		if err != nil {
			log.Printf("[Extractor] %s object %d failed: %v", ds.Identifier, id, err)
			res.Failed = append(res.Failed, &ObjectError{ID: id, Err: err})
			continue
		}
		res.Clipped = append(res.Clipped, warns...)
		res.Extracted++
	}

	log.Printf("[Extractor] %s: extracted %d/%d objects (%d clipped, %d failed)",
		ds.Identifier, res.Extracted, len(ds.IDs), len(res.Clipped), len(res.Failed))
	return res, nil
}

type objectContext struct {
	dataset   Dataset
	groupName string
	tomoPath  string
	tomo      *mrc.File
	labels    []int32
	labelHdr  *mrc.Header
	shape     [3]int
	id        int32
	rank      int
	digits    int
}

func (e *Extractor) extractObject(oc objectContext) ([]ClipWarning, error) {
	centroid, ok := CenterOfMass(oc.labels, oc.shape, oc.id)
	if !ok {
		return nil, fmt.Errorf("label id %d not present in segmentation", oc.id)
	}
	left, _, err := ResolveBox(RoundCenter(centroid), e.cfg.BoxSize, oc.shape)
	if err != nil {
		return nil, err
	}

	data, err := oc.tomo.ReadBox(left, e.cfg.BoxSize)
	if err != nil {
		return nil, err
	}

	if err := e.normalize(data, oc.id); err != nil {
		return nil, err
	}

	path := e.particlePath(oc, "")
	var warns []ClipWarning
	if clipped := clipToDType(data, e.cfg.DType); clipped > 0 {
		w := ClipWarning{ParticlePath: path, DType: e.cfg.DType, Clipped: clipped}
		log.Printf("[Extractor] Warning: %v", w)
		warns = append(warns, w)
	}

	mode, err := e.cfg.DType.mrcMode()
	if err != nil {
		return nil, err
	}
	boxShape := [3]int{e.cfg.BoxSize, e.cfg.BoxSize, e.cfg.BoxSize}
	if err := mrc.Write(path, data, boxShape, mode, oc.tomo.Header()); err != nil {
		return nil, err
	}
	e.Catalog.Append(CatalogRow{
		Identifier:   oc.dataset.Identifier,
		GroupName:    oc.groupName,
		ID:           oc.id,
		TomoPath:     oc.tomoPath,
		ParticlePath: path,
		LeftX:        left[0],
		LeftY:        left[1],
		LeftZ:        left[2],
	})

	if e.cfg.WriteLabels {
		if err := e.writeLabelParticle(oc, left); err != nil {
			return warns, fmt.Errorf("label particle: %w", err)
		}
	}
	return warns, nil
}

// writeLabelParticle slices the label mask at the same box and remaps
// it to the configured foreground/background values.
func (e *Extractor) writeLabelParticle(oc objectContext, left [3]int) error {
	size := e.cfg.BoxSize
	mask := make([]float32, size*size*size)
	for dz := 0; dz < size; dz++ {
		for dy := 0; dy < size; dy++ {
			for dx := 0; dx < size; dx++ {
				src := ((left[2]+dz)*oc.shape[1]+(left[1]+dy))*oc.shape[0] + (left[0] + dx)
				v := e.cfg.LabelBkg
				if oc.labels[src] == oc.id {
					v = e.cfg.LabelFg
				}
				mask[(dz*size+dy)*size+dx] = v
			}
		}
	}

	mode, err := e.cfg.LabelDType.mrcMode()
	if err != nil {
		return err
	}
	path := e.particlePath(oc, "_label")
	if err := mrc.Write(path, mask, [3]int{size, size, size}, mode, oc.labelHdr); err != nil {
		return err
	}
	e.LabelCatalog.Append(CatalogRow{
		Identifier:   oc.dataset.Identifier,
		GroupName:    oc.groupName,
		ID:           oc.id,
		TomoPath:     oc.dataset.LabelPath,
		ParticlePath: path,
		LeftX:        left[0],
		LeftY:        left[1],
		LeftZ:        left[2],
	})
	return nil
}

// particlePath builds the deterministic output name: sanitized
// identifier plus the zero-padded object id (or rank), so names within
// one dataset are uniform width and sort lexically.
func (e *Extractor) particlePath(oc objectContext, suffix string) string {
	n := int(oc.id)
	if !e.cfg.KeepIDs {
		n = oc.rank
	}
	ident := security.SanitizeFilename(oc.dataset.Identifier)
	name := fmt.Sprintf("%s_id-%0*d%s.mrc", ident, oc.digits, n, suffix)
	return filepath.Join(e.cfg.ParticleDir, name)
}

// nameDigits is the digit count needed for the largest id (or the
// batch size when renumbering from 0).
func nameDigits(ids []int32, keepIDs bool) int {
	n := len(ids)
	if keepIDs {
		n = 0
		for _, id := range ids {
			if int(id) > n {
				n = int(id)
			}
		}
	}
	if n < 10 {
		return 1
	}
	return int(math.Log10(float64(n))) + 1
}

// normalize applies the optional std and mean targets, in that order,
// recomputing the mean after rescaling as the rescale shifts it.
func (e *Extractor) normalize(data []float32, id int32) error {
	if e.cfg.Std != nil {
		sd := sampleStd(data)
		if sd == 0 {
			return &ZeroVarianceError{ID: id}
		}
		scale := float32(*e.cfg.Std / sd)
		for i := range data {
			data[i] *= scale
		}
	}
	if e.cfg.Mean != nil {
		shift := float32(*e.cfg.Mean - sampleMean(data))
		for i := range data {
			data[i] += shift
		}
	}
	return nil
}

// clipToDType clamps samples to the dtype's representable range and
// returns how many were out of range.
func clipToDType(data []float32, d DType) int {
	lo, hi, bounded := d.bounds()
	if !bounded {
		return 0
	}
	clipped := 0
	for i, s := range data {
		switch {
		case float64(s) < lo:
			data[i] = float32(lo)
			clipped++
		case float64(s) > hi:
			data[i] = float32(hi)
			clipped++
		}
	}
	return clipped
}

func sampleMean(data []float32) float64 {
	var sum float64
	for _, s := range data {
		sum += float64(s)
	}
	return sum / float64(len(data))
}

func sampleStd(data []float32) float64 {
	m := sampleMean(data)
	var sum float64
	for _, s := range data {
		d := float64(s) - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(data)))
}
