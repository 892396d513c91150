package tool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// maxToolSize caps a downloaded tool executable.
const maxToolSize = 32 << 20

// ErrNotInCatalog is returned when installing a name the catalog does not list.
var ErrNotInCatalog = errors.New("tool: not in catalog")

// CatalogItem describes one installable tool.
type CatalogItem struct {
	Source      string            `json:"source" yaml:"source"`
	Interpreter string            `json:"interpreter,omitempty" yaml:"interpreter,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Secrets     map[string]string `json:"secrets,omitempty" yaml:"secrets,omitempty"`
}

// Catalog is the marketplace document of installable tools.
type Catalog struct {
	Tools map[string]CatalogItem `json:"tools" yaml:"tools"`

	// baseDir resolves relative local sources.
	baseDir string
}

// LoadCatalog reads a YAML or JSON catalog. A missing file is an empty catalog.
func LoadCatalog(file string) (Catalog, error) {
	catalog := Catalog{Tools: map[string]CatalogItem{}}
	if strings.TrimSpace(file) == "" {
		return catalog, nil
	}

	// #nosec G304 -- catalog path is configured by the operator.
	data, err := os.ReadFile(file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return catalog, nil
		}
		return catalog, fmt.Errorf("tool: read catalog: %w", err)
	}
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return catalog, fmt.Errorf("tool: decode catalog %s: %w", file, err)
	}
	if catalog.Tools == nil {
		catalog.Tools = map[string]CatalogItem{}
	}
	catalog.baseDir = filepath.Dir(file)
	return catalog, nil
}

// InstallerConfig configures an Installer.
type InstallerConfig struct {
	Registry   *Registry
	Catalog    Catalog
	ToolsDir   string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Installer places catalog tools into the tools directory and registers them.
type Installer struct {
	registry *Registry
	catalog  Catalog
	toolsDir string
	client   *http.Client
	logger   *slog.Logger
}

// NewInstaller validates cfg and creates an Installer.
func NewInstaller(cfg InstallerConfig) (*Installer, error) {
	if cfg.Registry == nil {
		return nil, errors.New("tool: installer registry is nil")
	}
	if strings.TrimSpace(cfg.ToolsDir) == "" {
		return nil, errors.New("tool: installer tools dir is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{
		registry: cfg.Registry,
		catalog:  cfg.Catalog,
		toolsDir: cfg.ToolsDir,
		client:   client,
		logger:   logger,
	}, nil
}

// Install fetches a catalog tool, writes it as an executable and registers it.
func (i *Installer) Install(ctx context.Context, name string) (Entry, error) {
	name = strings.TrimSpace(name)
	if err := validateToolName(name); err != nil {
		return Entry{}, err
	}
	item, ok := i.catalog.Tools[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrNotInCatalog, name)
	}
	if strings.TrimSpace(item.Source) == "" {
		return Entry{}, fmt.Errorf("tool: catalog entry %q has no source", name)
	}
	if _, err := i.registry.Resolve(ctx, name); err == nil {
		return Entry{}, fmt.Errorf("%w: %q", ErrToolExists, name)
	} else if !errors.Is(err, ErrToolNotFound) {
		return Entry{}, err
	}

	body, err := i.fetch(ctx, item.Source)
	if err != nil {
		return Entry{}, err
	}

	target := filepath.Join(i.toolsDir, name+sourceExt(item.Source))
	if err := writeExecutable(target, body); err != nil {
		return Entry{}, err
	}

	entry := Entry{
		ID:          name,
		Path:        target,
		Interpreter: item.Interpreter,
		Secrets:     item.Secrets,
		Managed:     true,
		Source:      item.Source,
	}
	if err := i.registry.Register(ctx, entry); err != nil {
		_ = os.Remove(target)
		return Entry{}, err
	}

	i.logger.Info("tool installed", "tool", name, "source", item.Source, "path", target)
	return entry, nil
}

// Uninstall unregisters a tool and deletes its executable when the installer
// manages it.
func (i *Installer) Uninstall(ctx context.Context, id string) (Entry, error) {
	entry, err := i.registry.Unregister(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	if entry.Managed && i.owns(entry.Path) {
		if err := os.Remove(entry.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return entry, fmt.Errorf("tool: remove executable %s: %w", entry.Path, err)
		}
	}
	i.logger.Info("tool uninstalled", "tool", entry.ID, "managed", entry.Managed)
	return entry, nil
}

func (i *Installer) owns(file string) bool {
	rel, err := filepath.Rel(i.toolsDir, file)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (i *Installer) fetch(ctx context.Context, source string) ([]byte, error) {
	if isRemoteSource(source) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, fmt.Errorf("tool: build download request: %w", err)
		}
		resp, err := i.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("tool: download %s: %w", source, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("tool: download %s: HTTP %d", source, resp.StatusCode)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxToolSize+1))
		if err != nil {
			return nil, fmt.Errorf("tool: read download %s: %w", source, err)
		}
		if len(body) > maxToolSize {
			return nil, fmt.Errorf("tool: download %s exceeds %d bytes", source, maxToolSize)
		}
		return body, nil
	}

	local := source
	if !filepath.IsAbs(local) && i.catalog.baseDir != "" {
		local = filepath.Join(i.catalog.baseDir, local)
	}
	// #nosec G304 -- local sources are listed in the operator's catalog.
	body, err := os.ReadFile(local)
	if err != nil {
		return nil, fmt.Errorf("tool: read source %s: %w", local, err)
	}
	return body, nil
}

func writeExecutable(target string, body []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("tool: create tools dir: %w", err)
	}
	tmp := target + ".tmp"
	// #nosec G306 -- installed tools must be executable.
	if err := os.WriteFile(tmp, body, 0o755); err != nil {
		return fmt.Errorf("tool: write executable: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("tool: place executable: %w", err)
	}
	return nil
}

func isRemoteSource(source string) bool {
	lower := strings.ToLower(source)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func sourceExt(source string) string {
	if isRemoteSource(source) {
		if u, err := url.Parse(source); err == nil {
			return path.Ext(u.Path)
		}
		return ""
	}
	return filepath.Ext(source)
}

func validateToolName(name string) error {
	if name == "" {
		return errors.New("tool: name is required")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("tool: invalid name %q", name)
	}
	return nil
}
