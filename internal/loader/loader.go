// Package loader reads operator-defined object definitions from CUE files and
// turns them into registry entries backed by values it owns.
package loader

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/geekxflood/common/config"
	"github.com/geekxflood/common/logging"
)

//go:embed schemas/objects.cue
var schemaFS embed.FS

// LoaderConfig holds configuration for the object loader
type LoaderConfig struct {
	Directory      string   `json:"directory"`
	FileExtensions []string `json:"file_extensions"`
	MaxFileSize    int64    `json:"max_file_size"`
	IgnorePatterns []string `json:"ignore_patterns"`
}

// DefaultLoaderConfig returns a default loader configuration
func DefaultLoaderConfig() *LoaderConfig {
	return &LoaderConfig{
		FileExtensions: []string{".cue"},
		MaxFileSize:    1024 * 1024,
		IgnorePatterns: []string{".*", "_*", "*.bak", "*.tmp"},
	}
}

// LoadLoaderConfig reads the objects section from the configuration provider.
func LoadLoaderConfig(cfg config.Provider) (*LoaderConfig, error) {
	c := DefaultLoaderConfig()
	if cfg == nil {
		return c, nil
	}

	var err error
	if c.Directory, err = cfg.GetString("objects.directory", c.Directory); err != nil {
		return nil, fmt.Errorf("failed to get objects directory: %w", err)
	}
	if c.FileExtensions, err = cfg.GetStringSlice("objects.file_extensions", c.FileExtensions); err != nil {
		return nil, fmt.Errorf("failed to get object file extensions: %w", err)
	}
	size, err := cfg.GetInt("objects.max_file_size", int(c.MaxFileSize))
	if err != nil {
		return nil, fmt.Errorf("failed to get max object file size: %w", err)
	}
	c.MaxFileSize = int64(size)

	return c, nil
}

// LoaderStats tracks loader statistics
type LoaderStats struct {
	FilesLoaded  int           `json:"files_loaded"`
	Objects      int           `json:"objects"`
	LastScanTime time.Time     `json:"last_scan_time"`
	ScanDuration time.Duration `json:"scan_duration"`
	ParseErrors  int           `json:"parse_errors"`
}

// Loader compiles object definition files against the embedded schema.
type Loader struct {
	config *LoaderConfig
	logger logging.Logger
	cue    *cue.Context
	schema cue.Value
	stats  LoaderStats
}

// NewLoader creates a loader. The embedded schema is compiled once.
func NewLoader(cfg *LoaderConfig, logger logging.Logger) (*Loader, error) {
	if cfg == nil {
		cfg = DefaultLoaderConfig()
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	content, err := schemaFS.ReadFile("schemas/objects.cue")
	if err != nil {
		return nil, fmt.Errorf("failed to read object schema: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileBytes(content, cue.Filename("objects.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile object schema: %w", err)
	}

	return &Loader{
		config: cfg,
		logger: logger.With("component", "loader"),
		cue:    ctx,
		schema: schema,
	}, nil
}

// Directory returns the configured definitions directory.
func (l *Loader) Directory() string {
	return l.config.Directory
}

// LoadAll reads every definition file under the configured directory in
// lexical path order. An empty directory setting yields an empty set.
func (l *Loader) LoadAll() (*ObjectSet, error) {
	start := time.Now()
	set := &ObjectSet{}

	if l.config.Directory == "" {
		return set, nil
	}

	var paths []string
	err := filepath.WalkDir(l.config.Directory, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != l.config.Directory && l.shouldIgnore(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if l.shouldIgnore(path) || !l.hasValidExtension(path) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", l.config.Directory, err)
	}
	slices.Sort(paths)

	for _, path := range paths {
		objects, err := l.LoadFile(path)
		if err != nil {
			l.stats.ParseErrors++
			return nil, err
		}
		set.Objects = append(set.Objects, objects...)
		set.Files = append(set.Files, path)
	}

	l.stats.FilesLoaded = len(set.Files)
	l.stats.Objects = len(set.Objects)
	l.stats.LastScanTime = start
	l.stats.ScanDuration = time.Since(start)

	l.logger.Info("Object definitions loaded",
		"directory", l.config.Directory,
		"files", len(set.Files),
		"objects", len(set.Objects),
		"duration", l.stats.ScanDuration.String())
	return set, nil
}

// LoadFile reads and compiles one definition file.
func (l *Loader) LoadFile(path string) ([]*Object, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if l.config.MaxFileSize > 0 && info.Size() > l.config.MaxFileSize {
		return nil, fmt.Errorf("%s is %d bytes, limit is %d", path, info.Size(), l.config.MaxFileSize)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return l.LoadBytes(path, content)
}

// LoadBytes compiles definitions from content; name is used in errors.
func (l *Loader) LoadBytes(name string, content []byte) ([]*Object, error) {
	value := l.cue.CompileBytes(content, cue.Filename(name))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile %s: %w", name, err)
	}

	unified := l.schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid object definitions in %s: %w", name, err)
	}

	list, err := unified.LookupPath(cue.ParsePath("objects")).List()
	if err != nil {
		return nil, fmt.Errorf("failed to read objects in %s: %w", name, err)
	}

	var objects []*Object
	for i := 0; list.Next(); i++ {
		def, err := decodeDefinition(list.Value())
		if err != nil {
			return nil, fmt.Errorf("%s: object %d: %w", name, i, err)
		}
		def.Source = name

		obj, err := NewObject(def)
		if err != nil {
			return nil, fmt.Errorf("%s: object %d: %w", name, i, err)
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

// Validate checks content against the schema without keeping the result.
func (l *Loader) Validate(name string, content []byte) error {
	_, err := l.LoadBytes(name, content)
	return err
}

// GetStats returns loader statistics
func (l *Loader) GetStats() LoaderStats {
	return l.stats
}

func (l *Loader) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range l.config.IgnorePatterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}

func (l *Loader) hasValidExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return slices.Contains(l.config.FileExtensions, ext)
}

func decodeDefinition(v cue.Value) (Definition, error) {
	var def Definition
	var err error

	if def.OID, err = field(v, "oid").String(); err != nil {
		return def, fmt.Errorf("oid: %w", err)
	}
	kind, err := field(v, "type").String()
	if err != nil {
		return def, fmt.Errorf("type: %w", err)
	}
	def.Type = Kind(kind)
	if def.Settable, err = field(v, "settable").Bool(); err != nil {
		return def, fmt.Errorf("settable: %w", err)
	}
	if def.Absolute, err = field(v, "absolute").Bool(); err != nil {
		return def, fmt.Errorf("absolute: %w", err)
	}
	if d := field(v, "description"); d.Exists() {
		if def.Description, err = d.String(); err != nil {
			return def, fmt.Errorf("description: %w", err)
		}
	}

	value := field(v, "value")
	switch def.Type {
	case KindInteger:
		def.Int, err = value.Int64()
	case KindFloat:
		def.Float, err = value.Float64()
	case KindString:
		def.Text, err = value.String()
		if err == nil {
			var capacity int64
			capacity, err = field(v, "capacity").Int64()
			def.Capacity = int(capacity)
		}
	case KindOID:
		def.Text, err = value.String()
	case KindCounter32, KindGauge32, KindTimeTicks, KindCounter64:
		def.Uint, err = value.Uint64()
	default:
		err = fmt.Errorf("unknown type %q", kind)
	}
	if err != nil {
		return def, fmt.Errorf("value: %w", err)
	}
	return def, nil
}

// field returns the named field of v with its default applied.
func field(v cue.Value, name string) cue.Value {
	f, _ := v.LookupPath(cue.ParsePath(name)).Default()
	return f
}
