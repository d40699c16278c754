package publisher

import (
	"Go2NetStats/internal/config"
	"Go2NetStats/internal/model"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Factory builds a publisher from its configuration.
type Factory func(def config.PublisherDef) (model.Publisher, error)

// registry holds the mapping of publisher types to their factory functions.
var registry = make(map[string]Factory)

// Register registers a new publisher type with its factory function.
func Register(name string, factory Factory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("publisher type '%s' already registered", name))
	}
	registry[name] = factory
}

// Create builds every enabled publisher of the config. On error, the
// publishers created so far are closed.
func Create(defs []config.PublisherDef) ([]model.Publisher, error) {
	var pubs []model.Publisher
	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		log.Printf("Creating publisher of type '%s'", def.Type)

		factory, ok := registry[def.Type]
		if !ok {
			return nil, multierr.Append(fmt.Errorf("unknown publisher type: '%s'", def.Type), closeAll(pubs))
		}
		p, err := factory(def)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("error creating publisher '%s': %w", def.Type, err), closeAll(pubs))
		}
		pubs = append(pubs, p)
	}
	return pubs, nil
}

func closeAll(pubs []model.Publisher) error {
	var err error
	for _, p := range pubs {
		err = multierr.Append(err, p.Close())
	}
	return err
}
