package cache

import (
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/product-discovery/backend/pkg/utils"
)

// Namespace groups cache keys that share a TTL and an invalidation scope.
type Namespace string

const (
	NSProduct                 Namespace = "product"
	NSProductList             Namespace = "product_list"
	NSCategoryProducts        Namespace = "category_products"
	NSSearchResults           Namespace = "search_results"
	NSRecommendationsProduct  Namespace = "recommendations_product"
	NSRecommendationsCategory Namespace = "recommendations_category"
	NSWishlist                Namespace = "wishlist"
	NSCart                    Namespace = "cart"
	NSRecentlyViewed          Namespace = "recently_viewed"
)

// Params are the request parameters that change a cached result.
type Params map[string]any

// Key derives "<namespace>:<id>[:<md5 of sorted params>]".
func Key(ns Namespace, id string, params Params) string {
	key := string(ns) + ":" + id
	if len(params) == 0 {
		return key
	}
	return key + ":" + utils.HashString(canonicalParams(params))
}

// canonicalParams renders params as a JSON object with sorted keys so that
// equal parameter sets always hash the same way.
func canonicalParams(params Params) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		k, _ := json.Marshal(name)
		b.Write(k)
		b.WriteByte(':')
		v, err := json.Marshal(params[name])
		if err != nil {
			v = []byte("null")
		}
		b.Write(v)
	}
	b.WriteByte('}')
	return b.String()
}

func namespaceTag(ns Namespace) string {
	return "ns:" + string(ns)
}

func identifierTag(ns Namespace, id string) string {
	return "id:" + string(ns) + ":" + id
}

// ProductTag marks entries whose payload contains the given product.
func ProductTag(productID string) string {
	return "product:" + productID
}

// CategoryProductsTag marks entries listing a category's products.
func CategoryProductsTag(categoryID string) string {
	return "category-products:" + categoryID
}
