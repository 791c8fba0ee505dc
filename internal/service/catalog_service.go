package service

import (
	"context"
	"io"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gardenx/internal/errs"
	"gardenx/internal/imagestore"
	"gardenx/internal/models"
	"gardenx/internal/store"
	"gardenx/internal/util"

	"go.uber.org/zap"
)

// CatalogService handles product listing and admin product management.
type CatalogService struct {
	store  *store.Store
	images imagestore.Store
	logger *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(store *store.Store, images imagestore.Store) *CatalogService {
	return &CatalogService{
		store:  store,
		images: images,
		logger: util.GetLogger(),
	}
}

// List returns all products, in-stock items before out-of-stock ones,
// alphabetical within each group.
func (cs *CatalogService) List(ctx context.Context) ([]models.Product, error) {
	products, err := cs.store.GetProducts(ctx)
	if err != nil {
		return nil, &errs.BackendError{Op: "list products", Err: err}
	}
	SortProducts(products)
	return products, nil
}

// Get returns a single product
func (cs *CatalogService) Get(ctx context.Context, id string) (*models.Product, error) {
	return cs.store.GetProductByID(ctx, id)
}

// ProductInput carries raw admin form fields. Price and stock arrive as
// strings and are coerced here; price is AED decimal, stored in fils.
type ProductInput struct {
	Name     string `json:"name"`
	Price    string `json:"price"`
	Stock    string `json:"stock_quantity"`
	Category string `json:"category"`
	ImageURL string `json:"image_url"`
}

func coerceProduct(in ProductInput) (*models.Product, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, &errs.ValidationError{Field: "name", Message: "name is required"}
	}

	price, err := ParsePrice(in.Price)
	if err != nil {
		return nil, err
	}

	stock := 0
	if in.Stock != "" {
		stock, err = strconv.Atoi(in.Stock)
		if err != nil || stock < 0 {
			return nil, &errs.ValidationError{Field: "stock_quantity", Message: "must be a non-negative integer"}
		}
	}

	category := in.Category
	if category == "" {
		category = models.CategoryMisc
	}
	switch category {
	case models.CategoryVegetable, models.CategoryPlant, models.CategorySeed, models.CategoryMisc:
	default:
		return nil, &errs.ValidationError{Field: "category", Message: "unknown category"}
	}

	return &models.Product{
		Name:          strings.TrimSpace(in.Name),
		Price:         price,
		StockQuantity: stock,
		Category:      category,
		ImageURL:      in.ImageURL,
	}, nil
}

// Create adds a product from admin form input
func (cs *CatalogService) Create(ctx context.Context, in ProductInput) (*models.Product, error) {
	product, err := coerceProduct(in)
	if err != nil {
		return nil, err
	}
	if err := cs.store.CreateProduct(ctx, product); err != nil {
		return nil, &errs.BackendError{Op: "create product", Err: err}
	}
	return product, nil
}

// Update replaces a product's editable fields from admin form input
func (cs *CatalogService) Update(ctx context.Context, id string, in ProductInput) (*models.Product, error) {
	existing, err := cs.store.GetProductByID(ctx, id)
	if err != nil {
		return nil, err
	}

	product, err := coerceProduct(in)
	if err != nil {
		return nil, err
	}
	product.ID = existing.ID
	product.CreatedAt = existing.CreatedAt
	if product.ImageURL == "" {
		product.ImageURL = existing.ImageURL
	}

	if err := cs.store.UpdateProduct(ctx, product); err != nil {
		return nil, &errs.BackendError{Op: "update product", Err: err}
	}
	return product, nil
}

// Delete removes a product and best-effort deletes its stored image.
// Image cleanup failure is logged, never blocks the record deletion.
func (cs *CatalogService) Delete(ctx context.Context, id string) error {
	product, err := cs.store.GetProductByID(ctx, id)
	if err != nil {
		return err
	}

	if err := cs.store.DeleteProduct(ctx, id); err != nil {
		return &errs.BackendError{Op: "delete product", Err: err}
	}

	if product.ImageURL != "" && cs.images != nil {
		if err := cs.images.Delete(product.ImageURL); err != nil {
			cs.logger.Warn("Failed to delete product image",
				zap.String("product_id", id),
				zap.String("image_url", product.ImageURL),
				zap.Error(err))
		}
	}
	return nil
}

// AttachImage stores an uploaded image and records its URL on the product
func (cs *CatalogService) AttachImage(ctx context.Context, id, ext string, body io.Reader) (*models.Product, error) {
	product, err := cs.store.GetProductByID(ctx, id)
	if err != nil {
		return nil, err
	}

	url, err := cs.images.Save(id, ext, body)
	if err != nil {
		return nil, &errs.BackendError{Op: "store image", Err: err}
	}

	product.ImageURL = url
	if err := cs.store.UpdateProduct(ctx, product); err != nil {
		return nil, &errs.BackendError{Op: "update product", Err: err}
	}
	return product, nil
}

// SortProducts orders products for display: in-stock before out-of-stock,
// then alphabetical by name.
func SortProducts(products []models.Product) {
	sort.SliceStable(products, func(i, j int) bool {
		if products[i].InStock() != products[j].InStock() {
			return products[i].InStock()
		}
		return products[i].Name < products[j].Name
	})
}

var weightSuffixRe = regexp.MustCompile(`^(.*?)\s*\(([^)]+)\)\s*$`)

// ParseDisplayName splits a product name into its base name and the
// parenthesized weight suffix, e.g. "Tomato (500g)" -> "Tomato", "500g".
func ParseDisplayName(name string) (base, weight string) {
	if m := weightSuffixRe.FindStringSubmatch(name); m != nil {
		return strings.TrimSpace(m[1]), m[2]
	}
	return strings.TrimSpace(name), ""
}

// ParsePrice coerces a decimal AED amount to fils.
func ParsePrice(s string) (int64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 {
		return 0, &errs.ValidationError{Field: "price", Message: "must be a non-negative number"}
	}
	return int64(math.Round(f * 100)), nil
}
