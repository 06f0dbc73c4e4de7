package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/hamed0406/waitprobe/internal/probe"
)

// minInterval keeps watch mode from re-running a probe in a tight loop.
const minInterval = time.Second

// File is a watch mode configuration file.
//
//	api_addr: 127.0.0.1:8080
//	defaults:
//	  timeout: 30s
//	  pause: 1s
//	  interval: 1m
//	  retry: [unavailable, timeout]
//	watches:
//	  - name: postgres
//	    check: tcp
//	    target: ${DB_HOST:-localhost}:5432
//	  - name: api
//	    check: http
//	    target: http://localhost:8080/healthz
//	    isolate: true
//	  - name: migrations
//	    command: ["sh", "-c", "test -f /var/run/migrated"]
type File struct {
	APIAddr  string   `yaml:"api_addr"`
	Defaults Defaults `yaml:"defaults"`
	Watches  []Watch  `yaml:"watches"`
}

// Defaults apply to every watch that does not set the field itself.
type Defaults struct {
	Timeout  Duration    `yaml:"timeout"`
	Pause    *Duration   `yaml:"pause"`
	Interval Duration    `yaml:"interval"`
	Retry    []probe.Tag `yaml:"retry"`
}

// Watch is one probe run repeatedly in watch mode.
type Watch struct {
	Name string `yaml:"name"`
	// Check is a built-in check name (tcp, http, dns) used with Target.
	Check  string `yaml:"check"`
	Target string `yaml:"target"`
	// Command is run per attempt instead of a built-in check; exit 0 means ready.
	Command []string `yaml:"command"`
	// Isolate runs a built-in check in a separate worker process.
	Isolate        bool        `yaml:"isolate"`
	Timeout        Duration    `yaml:"timeout"`
	Pause          *Duration   `yaml:"pause"`
	AttemptTimeout Duration    `yaml:"attempt_timeout"`
	Interval       Duration    `yaml:"interval"`
	Retry          []probe.Tag `yaml:"retry"`
}

// Duration accepts Go duration strings ("1m30s") and plain seconds (2.5).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseSeconds(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Load reads and validates a watch file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, expands ${VAR} and ${VAR:-default} in targets and
// commands, applies defaults and validates.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	f.applyDefaults()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) applyDefaults() {
	if f.Defaults.Timeout == 0 {
		f.Defaults.Timeout = Duration(30 * time.Second)
	}
	if f.Defaults.Pause == nil {
		p := Duration(time.Second)
		f.Defaults.Pause = &p
	}
	if f.Defaults.Interval == 0 {
		f.Defaults.Interval = Duration(time.Minute)
	}
	if f.Defaults.Retry == nil {
		f.Defaults.Retry = append([]probe.Tag(nil), DefaultRetryTags...)
	}
	for i := range f.Watches {
		w := &f.Watches[i]
		w.Target = expandEnv(w.Target)
		for j := range w.Command {
			w.Command[j] = expandEnv(w.Command[j])
		}
		if w.Timeout == 0 {
			w.Timeout = f.Defaults.Timeout
		}
		if w.Pause == nil {
			p := *f.Defaults.Pause
			w.Pause = &p
		}
		if w.Interval == 0 {
			w.Interval = f.Defaults.Interval
		}
		if w.Retry == nil {
			w.Retry = append([]probe.Tag(nil), f.Defaults.Retry...)
		}
		w.Retry = normalizeTags(w.Retry)
	}
}

// normalizeTags rewrites spellings such as "Not-Found" to their canonical
// form. Unknown tags are kept for Validate to report.
func normalizeTags(tags []probe.Tag) []probe.Tag {
	out := make([]probe.Tag, len(tags))
	for i, t := range tags {
		if parsed, err := probe.ParseTag(string(t)); err == nil {
			t = parsed
		}
		out[i] = t
	}
	return out
}

// Validate reports every problem in the file at once.
func (f *File) Validate() error {
	var err error
	if len(f.Watches) == 0 {
		err = multierr.Append(err, errors.New("no watches configured"))
	}
	seen := make(map[string]bool)
	for i, w := range f.Watches {
		where := fmt.Sprintf("watches[%d]", i)
		if w.Name == "" {
			err = multierr.Append(err, fmt.Errorf("%s: name is required", where))
		} else {
			where = fmt.Sprintf("watch %q", w.Name)
			if seen[w.Name] {
				err = multierr.Append(err, fmt.Errorf("%s: duplicate name", where))
			}
			seen[w.Name] = true
		}
		switch {
		case len(w.Command) > 0 && w.Check != "":
			err = multierr.Append(err, fmt.Errorf("%s: set either check or command, not both", where))
		case len(w.Command) > 0:
			if w.Isolate {
				err = multierr.Append(err, fmt.Errorf("%s: commands always run isolated; drop isolate", where))
			}
		case w.Check == "tcp" || w.Check == "http" || w.Check == "dns":
			if w.Target == "" {
				err = multierr.Append(err, fmt.Errorf("%s: target is required for %s", where, w.Check))
			}
		case w.Check == "":
			err = multierr.Append(err, fmt.Errorf("%s: check or command is required", where))
		default:
			err = multierr.Append(err, fmt.Errorf("%s: unknown check %q", where, w.Check))
		}
		if w.Timeout.Duration() <= 0 {
			err = multierr.Append(err, fmt.Errorf("%s: timeout must be > 0", where))
		}
		if w.Pause != nil && w.Pause.Duration() < 0 {
			err = multierr.Append(err, fmt.Errorf("%s: pause must be >= 0", where))
		}
		if w.Interval.Duration() < minInterval {
			err = multierr.Append(err, fmt.Errorf("%s: interval must be at least %s", where, minInterval))
		}
		for _, t := range w.Retry {
			if _, perr := probe.ParseTag(string(t)); perr != nil {
				err = multierr.Append(err, fmt.Errorf("%s: %w", where, perr))
			}
		}
	}
	return err
}

// expandEnv replaces ${VAR} and ${VAR:-default}.
func expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		name, def, hasDef := strings.Cut(key, ":-")
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		if hasDef {
			return def
		}
		return ""
	})
}
