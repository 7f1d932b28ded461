// Package config loads the process-root TOML configuration surface
// (frame_interval, thread_pool_num, service_path, services[], log_config)
// with pelletier/go-toml.
// Each service's `args` sub-table is handed back unparsed, as Services,
// since services interpret their own args — this package only owns the
// keys every process shares.
package config

import (
	"os"
	"runtime"
	"time"

	toml "github.com/pelletier/go-toml"

	liberr "github.com/nabbar/simple-mesh/errors"
)

// ServiceConfig is one entry of the root's services array: which module
// to load and its raw, service-interpreted args table.
type ServiceConfig struct {
	Name string
	Args *toml.Tree
}

// Root is the typed process configuration.
type Root struct {
	FrameInterval time.Duration
	ThreadPoolNum int
	ServicePath   []string
	LogConfig     string
	Services      []ServiceConfig
}

// Load reads and parses the TOML file at path into a Root.
func Load(path string) (Root, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Root{}, liberr.NewCode(liberr.CodeSystem, "config: read file", err)
	}
	tree, err := toml.LoadBytes(data)
	if err != nil {
		return Root{}, liberr.NewCode(liberr.CodeParseFailed, "config: parse TOML", err)
	}
	return fromTree(tree)
}

func fromTree(tree *toml.Tree) (Root, error) {
	r := Root{
		FrameInterval: 500 * time.Millisecond,
	}

	if v, ok := tree.Get("frame_interval").(int64); ok {
		r.FrameInterval = time.Duration(v) * time.Millisecond
	}

	if v, ok := tree.Get("thread_pool_num").(int64); ok {
		r.ThreadPoolNum = int(v)
	}
	if r.ThreadPoolNum <= 0 {
		r.ThreadPoolNum = runtime.NumCPU() - 1
		if r.ThreadPoolNum < 1 {
			r.ThreadPoolNum = 1
		}
	}

	if v, ok := tree.Get("service_path").([]interface{}); ok {
		for _, e := range v {
			if s, ok := e.(string); ok {
				r.ServicePath = append(r.ServicePath, s)
			}
		}
	}

	if v, ok := tree.Get("log_config").(string); ok {
		r.LogConfig = v
	}

	services, _ := tree.Get("services").([]*toml.Tree)
	for _, svc := range services {
		name, _ := svc.Get("name").(string)
		args, _ := svc.Get("args").(*toml.Tree)
		r.Services = append(r.Services, ServiceConfig{Name: name, Args: args})
	}

	return r, nil
}
