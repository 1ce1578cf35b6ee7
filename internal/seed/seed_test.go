package seed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/andreasstove999/ecommerce-system/services/hold-service-go/internal/inventory"
)

const sample = `
products:
  - name: Limited sneaker
    price: 12900
    total_stock: 100
  - name: Signed poster
    price: 2500
    total_stock: 5
`

func TestLoadAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	f, err := Load(path)
	require.NoError(t, err)
	require.Len(t, f.Products, 2)
	require.Equal(t, inventory.NewProduct{Name: "Limited sneaker", Price: 12900, TotalStock: 100}, f.Products[0])

	svc := inventory.NewService(inventory.NewMemoryRepository())
	created, err := Apply(context.Background(), svc, f)
	require.NoError(t, err)
	require.Len(t, created, 2)

	av, err := svc.GetAvailability(context.Background(), created[1].ID)
	require.NoError(t, err)
	require.Equal(t, 5, av.AvailableStock)
	require.Equal(t, "Signed poster", av.Name)
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := Decode(strings.NewReader("products:\n  - name: x\n    stock: 3\n"))
	require.Error(t, err)
}

func TestDecodeEmpty(t *testing.T) {
	f, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, f.Products)
}

func TestApplyStopsAtInvalidProduct(t *testing.T) {
	svc := inventory.NewService(inventory.NewMemoryRepository())
	f := File{Products: []inventory.NewProduct{
		{Name: "ok", Price: 1, TotalStock: 1},
		{Name: "", Price: 1, TotalStock: 1},
		{Name: "never", Price: 1, TotalStock: 1},
	}}

	created, err := Apply(context.Background(), svc, f)
	require.ErrorIs(t, err, inventory.ErrInvalidRequest)
	require.Len(t, created, 1)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
