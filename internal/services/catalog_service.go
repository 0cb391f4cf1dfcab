package services

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	domain "github.com/farmstall/api/internal/domain"
	"github.com/farmstall/api/internal/platform/kv"
	"github.com/farmstall/api/internal/platform/textutil"
)

const (
	// ProductPageSize is the number of products per catalog page.
	ProductPageSize = 12

	catalogAllCategories = "all"
	seedOwnerID          = "admin"
	defaultProductImage  = "assets/images/test.png"
	defaultProductDesc   = "Freshly harvested"
	newProductSold       = "0 sold"
	newProductReviews    = "New Arrival"
	maxProductNameLength = 80
	maxProductDescLength = 500
)

// ProductCategories lists the categories a farmer can publish under.
var ProductCategories = []string{"vegetables", "fruits", "meats"}

//go:embed seed/products.yaml
var defaultCatalogSeed []byte

var errCatalogStoreRequired = errors.New("catalog service: shared store is required")

type catalogSeed struct {
	Products []struct {
		ID       string `yaml:"id"`
		Name     string `yaml:"name"`
		Price    string `yaml:"price"`
		Desc     string `yaml:"desc"`
		Reviews  string `yaml:"reviews"`
		Category string `yaml:"category"`
		Image    string `yaml:"image"`
		Sold     string `yaml:"sold"`
		OwnerID  string `yaml:"ownerId"`
	} `yaml:"products"`
}

// ParseCatalogSeed decodes a YAML product seed. Prices go through domain.ParsePrice.
func ParseCatalogSeed(data []byte) ([]Product, error) {
	var seed catalogSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("catalog service: decode seed: %w", err)
	}
	products := make([]Product, 0, len(seed.Products))
	for _, p := range seed.Products {
		owner := strings.TrimSpace(p.OwnerID)
		if owner == "" {
			owner = seedOwnerID
		}
		products = append(products, Product{
			ID:       strings.TrimSpace(p.ID),
			Name:     strings.TrimSpace(p.Name),
			Price:    domain.ParsePrice(p.Price),
			Image:    p.Image,
			Desc:     p.Desc,
			Category: strings.ToLower(strings.TrimSpace(p.Category)),
			OwnerID:  owner,
			Reviews:  p.Reviews,
			Sold:     p.Sold,
		})
	}
	return products, nil
}

// CatalogDeps wires the product listing.
type CatalogDeps struct {
	// Shared holds the products slot.
	Shared kv.Store
	Locker KeyLocker
	// Seed replaces the embedded catalog when non-empty.
	Seed        []Product
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

// Catalog serves the product listing and farmer product management.
type Catalog struct {
	shared kv.Store
	locker KeyLocker
	seed   []Product
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

var _ CatalogService = (*Catalog)(nil)

// NewCatalog constructs a Catalog enforcing dependency validation.
func NewCatalog(deps CatalogDeps) (*Catalog, error) {
	if deps.Shared == nil {
		return nil, errCatalogStoreRequired
	}
	seed := deps.Seed
	if len(seed) == 0 {
		parsed, err := ParseCatalogSeed(defaultCatalogSeed)
		if err != nil {
			return nil, err
		}
		seed = parsed
	}
	locker := deps.Locker
	if locker == nil {
		locker = kv.NewLocker()
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Catalog{
		shared: deps.Shared,
		locker: locker,
		seed:   seed,
		newID:  idGen,
		logger: logger,
	}, nil
}

// ListProducts returns one page of the catalog. A search term matches names across every category;
// the category filter applies only when no search term is given.
func (c *Catalog) ListProducts(ctx context.Context, filter ProductFilter) (ProductPage, error) {
	products, err := c.all(ctx)
	if err != nil {
		return ProductPage{}, err
	}

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	category := strings.ToLower(strings.TrimSpace(filter.Category))
	matched := make([]Product, 0, len(products))
	for _, p := range products {
		switch {
		case search != "":
			if !strings.Contains(strings.ToLower(p.Name), search) {
				continue
			}
		case category != "" && category != catalogAllCategories:
			if p.Category != category {
				continue
			}
		}
		matched = append(matched, p)
	}

	switch filter.Sort {
	case domain.ProductSortPriceAsc:
		sort.SliceStable(matched, func(i, j int) bool { return matched[i].Price.LessThan(matched[j].Price) })
	case domain.ProductSortPriceDesc:
		sort.SliceStable(matched, func(i, j int) bool { return matched[i].Price.GreaterThan(matched[j].Price) })
	}

	totalPages := (len(matched) + ProductPageSize - 1) / ProductPageSize
	if totalPages == 0 {
		totalPages = 1
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}
	start := (page - 1) * ProductPageSize
	end := start + ProductPageSize
	if end > len(matched) {
		end = len(matched)
	}

	return ProductPage{
		Items:      append([]Product{}, matched[start:end]...),
		Page:       page,
		TotalPages: totalPages,
		Total:      len(matched),
	}, nil
}

// GetProduct looks a product up by id.
func (c *Catalog) GetProduct(ctx context.Context, id string) (Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Product{}, ErrProductNotFound
	}
	products, err := c.all(ctx)
	if err != nil {
		return Product{}, err
	}
	for _, p := range products {
		if p.ID == id {
			return p, nil
		}
	}
	return Product{}, ErrProductNotFound
}

// ListByOwner returns the products published by ownerID in catalog order.
func (c *Catalog) ListByOwner(ctx context.Context, ownerID string) ([]Product, error) {
	products, err := c.all(ctx)
	if err != nil {
		return nil, err
	}
	owned := make([]Product, 0)
	for _, p := range products {
		if p.OwnerID == ownerID {
			owned = append(owned, p)
		}
	}
	return owned, nil
}

// AddProduct publishes a listing owned by actor, who must be a farmer.
func (c *Catalog) AddProduct(ctx context.Context, actor SessionUser, cmd AddProductCommand) (Product, error) {
	if actor.Role != domain.RoleFarmer {
		return Product{}, fmt.Errorf("%w: only farmers can add products", ErrForbidden)
	}
	name := textutil.TitleCase(textutil.Truncate(textutil.PlainText(cmd.Name), maxProductNameLength))
	if name == "" {
		return Product{}, fmt.Errorf("%w: product name is required", ErrInvalidInput)
	}
	price := domain.ParsePrice(cmd.Price)
	if !price.IsPositive() {
		return Product{}, fmt.Errorf("%w: price must be greater than zero", ErrInvalidInput)
	}
	category := strings.ToLower(strings.TrimSpace(cmd.Category))
	if category == "" {
		category = ProductCategories[0]
	}
	if !isProductCategory(category) {
		return Product{}, fmt.Errorf("%w: unknown category %q", ErrInvalidInput, cmd.Category)
	}
	desc := textutil.Truncate(textutil.PlainText(cmd.Desc), maxProductDescLength)
	if desc == "" {
		desc = defaultProductDesc
	}
	image := strings.TrimSpace(cmd.Image)
	if image == "" {
		image = defaultProductImage
	}

	product := Product{
		ID:       c.newID(),
		Name:     name,
		Price:    price,
		Image:    image,
		Desc:     desc,
		Category: category,
		OwnerID:  actor.ID,
		Reviews:  newProductReviews,
		Sold:     newProductSold,
	}

	ctx, unlock := c.locker.Lock(ctx, c.lockKey())
	defer unlock()
	products, err := c.all(ctx)
	if err != nil {
		return Product{}, err
	}
	if err := c.save(ctx, append(products, product)); err != nil {
		return Product{}, err
	}
	c.logger(ctx, "catalog.product_added", map[string]any{"productID": product.ID, "ownerID": actor.ID})
	return product, nil
}

// DeleteProduct removes one of actor's own products.
func (c *Catalog) DeleteProduct(ctx context.Context, actor SessionUser, id string) error {
	id = strings.TrimSpace(id)
	ctx, unlock := c.locker.Lock(ctx, c.lockKey())
	defer unlock()

	products, err := c.all(ctx)
	if err != nil {
		return err
	}
	kept := make([]Product, 0, len(products))
	found := false
	for _, p := range products {
		if p.ID != id {
			kept = append(kept, p)
			continue
		}
		found = true
		if actor.ID == "" || p.OwnerID != actor.ID {
			return fmt.Errorf("%w: product belongs to another owner", ErrForbidden)
		}
	}
	if !found {
		return ErrProductNotFound
	}
	if err := c.save(ctx, kept); err != nil {
		return err
	}
	c.logger(ctx, "catalog.product_deleted", map[string]any{"productID": id, "ownerID": actor.ID})
	return nil
}

// all returns the stored catalog, writing the seed on first use.
func (c *Catalog) all(ctx context.Context) ([]Product, error) {
	if products, ok, err := c.read(ctx); err != nil || ok {
		return products, err
	}

	ctx, unlock := c.locker.Lock(ctx, c.lockKey())
	defer unlock()
	// another request may have seeded while we waited
	if products, ok, err := c.read(ctx); err != nil || ok {
		return products, err
	}
	seeded := append([]Product{}, c.seed...)
	if err := c.save(ctx, seeded); err != nil {
		return nil, err
	}
	c.logger(ctx, "catalog.seeded", map[string]any{"products": len(seeded)})
	return seeded, nil
}

// read reports false when the products slot is absent or corrupt.
func (c *Catalog) read(ctx context.Context) ([]Product, bool, error) {
	var products []Product
	ok, err := kv.ReadJSON(ctx, c.shared, kv.KeyProducts, &products)
	switch {
	case err != nil && !errors.Is(err, kv.ErrCorrupt):
		return nil, false, fmt.Errorf("catalog service: read products: %w", err)
	case err != nil:
		c.logger(ctx, "catalog.corrupt", map[string]any{"error": err.Error()})
		return nil, false, nil
	}
	if products == nil {
		products = []Product{}
	}
	return products, ok, nil
}

func (c *Catalog) save(ctx context.Context, products []Product) error {
	if err := kv.WriteJSON(ctx, c.shared, kv.KeyProducts, products); err != nil {
		return fmt.Errorf("catalog service: persist products: %w", err)
	}
	return nil
}

func (c *Catalog) lockKey() string {
	return kv.ResolveKey(c.shared, kv.KeyProducts)
}

func isProductCategory(category string) bool {
	for _, candidate := range ProductCategories {
		if candidate == category {
			return true
		}
	}
	return false
}
