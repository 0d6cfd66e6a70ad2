package sources

import (
	"bytes"
	"errors"
	"io/fs"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/HerbHall/wolo/pkg/models"
)

// Files lists the configuration inputs, each in precedence order.
type Files struct {
	Hosts       []string
	Ethers      []string
	Config      []string
	IgnoreHosts []string
}

// Collected is everything read from the configuration inputs.
type Collected struct {
	Batches     []models.SourceBatch
	Overlays    []*Overlay
	Diagnostics []Diagnostic
}

// Loader reads source files from a filesystem.
type Loader struct {
	fs     afero.Fs
	logger *zap.Logger
}

// NewLoader returns a Loader over fsys. A nil fsys reads the OS filesystem.
func NewLoader(fsys afero.Fs, logger *zap.Logger) *Loader {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{fs: fsys, logger: logger}
}

// Load reads every file in files. Missing files are skipped quietly since
// the default paths need not exist; other read failures become diagnostics.
// Within each family the i-th file gets rank base+i so later files win.
func (l *Loader) Load(files Files) Collected {
	var c Collected

	for i, path := range files.Hosts {
		data, ok := l.read(path, &c)
		if !ok {
			continue
		}
		recs, diags := ParseHosts(bytes.NewReader(data), path)
		c.add(path, models.RankHostsFile+i, recs, diags)
	}
	for i, path := range files.Ethers {
		data, ok := l.read(path, &c)
		if !ok {
			continue
		}
		recs, diags := ParseEthers(bytes.NewReader(data), path)
		c.add(path, models.RankEthersFile+i, recs, diags)
	}
	for i, path := range files.Config {
		data, ok := l.read(path, &c)
		if !ok {
			continue
		}
		ov, diags := ParseOverlay(data, path)
		if ov == nil {
			c.Diagnostics = append(c.Diagnostics, diags...)
			continue
		}
		c.Overlays = append(c.Overlays, ov)
		c.add(path, models.RankConfigFile+i, ov.Records, diags)
	}

	recs, diags := ParseIgnoreHosts(files.IgnoreHosts)
	if len(recs) > 0 || len(diags) > 0 {
		c.add(OverrideSource, models.RankOverride, recs, diags)
	}
	return c
}

func (l *Loader) read(path string, c *Collected) ([]byte, bool) {
	data, err := afero.ReadFile(l.fs, path)
	if errors.Is(err, fs.ErrNotExist) {
		l.logger.Debug("source file not found, skipping", zap.String("path", path))
		return nil, false
	}
	if err != nil {
		c.Diagnostics = append(c.Diagnostics, Diagnostic{Source: path, Message: err.Error()})
		return nil, false
	}
	l.logger.Debug("read source file", zap.String("path", path), zap.Int("bytes", len(data)))
	return data, true
}

func (c *Collected) add(source string, rank int, recs []models.SourceRecord, diags []Diagnostic) {
	c.Diagnostics = append(c.Diagnostics, diags...)
	c.Batches = append(c.Batches, models.SourceBatch{Source: source, Rank: rank, Records: recs})
}

// Settings returns the overlay settings in file order, ready to be merged
// into the configuration.
func (c Collected) Settings() []map[string]any {
	out := make([]map[string]any, 0, len(c.Overlays))
	for _, ov := range c.Overlays {
		if len(ov.Settings) > 0 {
			out = append(out, ov.Settings)
		}
	}
	return out
}
