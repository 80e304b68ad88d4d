package policy

import (
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

type document struct {
	Controllers map[string]Controller `yaml:"controllers"`
}

// Load registers every controller described by the YAML document in r.
//
//	controllers:
//	  OrderController:
//	    transactional: {model: order, relatedRoute: get_order, writeStatusCodes: true}
//	    actions:
//	      create: {}
//	      check: {avoid: true}
func (r *Resolver) Load(in io.Reader) error {
	var doc document
	dec := yaml.NewDecoder(in)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return fmt.Errorf("%w: decode policy document: %v", ErrConfig, err)
	}

	names := make([]string, 0, len(doc.Controllers))
	for name := range doc.Controllers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		c := doc.Controllers[name]
		c.Name = name
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile is Load on the named file
func (r *Resolver) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open policy file: %w", err)
	}
	defer f.Close()
	return r.Load(f)
}
