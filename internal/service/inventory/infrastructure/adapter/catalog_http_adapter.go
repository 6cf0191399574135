package adapter

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"marketplace/internal/pkg/httpclient"
	"marketplace/internal/service/inventory/domain"
)

const (
	productByOptionPath = "/products/by_option"
	storePath           = "/stores"
)

// CatalogHTTPAdapter 实现了 port.CatalogService，通过商品服务的 HTTP 接口查询快照
type CatalogHTTPAdapter struct {
	client      *httpclient.Client
	serviceName string
	timeout     time.Duration
}

func NewCatalogHTTPAdapter(client *httpclient.Client, serviceName string, timeout time.Duration) *CatalogHTTPAdapter {
	return &CatalogHTTPAdapter{client: client, serviceName: serviceName, timeout: timeout}
}

func (a *CatalogHTTPAdapter) GetProductByOption(ctx context.Context, optionID string) (*domain.ProductSnapshot, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	var product domain.ProductSnapshot
	err := a.client.GetJSON(ctx, a.serviceName, productByOptionPath, url.Values{"option_value_id": {optionID}}, &product)
	if err != nil {
		return nil, mapNotFound(err, domain.ErrProductNotFound)
	}
	return &product, nil
}

func (a *CatalogHTTPAdapter) GetStore(ctx context.Context, storeID string) (*domain.StoreSnapshot, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	var store domain.StoreSnapshot
	err := a.client.GetJSON(ctx, a.serviceName, storePath, url.Values{"store_id": {storeID}}, &store)
	if err != nil {
		return nil, mapNotFound(err, domain.ErrStoreNotFound)
	}
	return &store, nil
}

func (a *CatalogHTTPAdapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.timeout)
}

// mapNotFound 把下游 404 转成领域错误
func mapNotFound(err error, notFound error) error {
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return notFound
	}
	return err
}
