// Package seed loads initial products from a YAML file.
package seed

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/andreasstove999/ecommerce-system/services/hold-service-go/internal/inventory"
)

// File is the seed document:
//
//	products:
//	  - name: Limited sneaker
//	    price: 12900
//	    total_stock: 100
type File struct {
	Products []inventory.NewProduct `yaml:"products"`
}

type ProductCreator interface {
	CreateProduct(ctx context.Context, p inventory.NewProduct) (inventory.Product, error)
}

func Load(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

func Decode(r io.Reader) (File, error) {
	var out File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil && err != io.EOF {
		return File{}, fmt.Errorf("decode seed file: %w", err)
	}
	return out, nil
}

// Apply creates every product in order and stops at the first failure.
func Apply(ctx context.Context, svc ProductCreator, f File) ([]inventory.Product, error) {
	created := make([]inventory.Product, 0, len(f.Products))
	for i, np := range f.Products {
		p, err := svc.CreateProduct(ctx, np)
		if err != nil {
			return created, fmt.Errorf("product %d (%q): %w", i, np.Name, err)
		}
		created = append(created, p)
	}
	return created, nil
}
