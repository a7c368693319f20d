package effect

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"
)

// cacheVersion is bumped whenever the generated source or Descriptor layout
// changes, invalidating disk entries.
const cacheVersion = "goscaler-effect-v2"

func cacheKey(name, source string) string {
	d := xxhash.New()
	_, _ = d.WriteString(cacheVersion)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(name)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(source)
	return strconv.FormatUint(d.Sum64(), 16)
}

// cache keeps compiled descriptors in memory and, when dir is set, as YAML
// files on disk.
type cache struct {
	dir string
	mu  sync.Mutex
	mem map[string]*Descriptor
}

func newCache(dir string) *cache {
	return &cache{dir: dir, mem: make(map[string]*Descriptor)}
}

func (c *cache) path(key string) string {
	return filepath.Join(c.dir, key+".yaml")
}

func (c *cache) get(key string) (*Descriptor, bool) {
	c.mu.Lock()
	d, ok := c.mem[key]
	c.mu.Unlock()
	if ok {
		return d, true
	}
	if c.dir == "" {
		return nil, false
	}
	b, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	d = &Descriptor{}
	if err := yaml.Unmarshal(b, d); err != nil || d.Code == "" {
		return nil, false
	}
	c.mu.Lock()
	c.mem[key] = d
	c.mu.Unlock()
	return d, true
}

// put stores d in memory and on disk. Disk errors are returned but leave
// the memory entry in place.
func (c *cache) put(key string, d *Descriptor) error {
	c.mu.Lock()
	c.mem[key] = d
	c.mu.Unlock()
	if c.dir == "" {
		return nil
	}
	b, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	return writeFileAtomic(c.path(key), b)
}

func writeFileAtomic(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
