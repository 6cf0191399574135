package application

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"marketplace/internal/pkg/logger"
	"marketplace/internal/pkg/tracing"
	"marketplace/internal/service/inventory/domain"
	"marketplace/internal/service/inventory/domain/port"
)

// 并发查询商品目录的上限
const catalogConcurrency = 8

// CartService 购物车读写与价格计算。只读商品和运费数据，不触碰库存
type CartService struct {
	carts    port.CartStore
	catalog  port.CatalogService
	delivery *DeliveryPolicyResolver
	tracer   trace.Tracer
}

func NewCartService(carts port.CartStore, catalog port.CatalogService, delivery *DeliveryPolicyResolver, tracer trace.Tracer) *CartService {
	return &CartService{carts: carts, catalog: catalog, delivery: delivery, tracer: tracer}
}

// PutEntry 写入购物车行，同一规格值后写覆盖
func (s *CartService) PutEntry(ctx context.Context, entry domain.CartEntry) error {
	ctx, span := s.tracer.Start(ctx, "service.PutCartEntry")
	defer span.End()
	span.SetAttributes(attribute.String("member.id", entry.MemberID), attribute.String("option.id", entry.OptionID))

	if entry.MemberID == "" || entry.OptionID == "" {
		return tracing.Fail(span, errors.Wrap(domain.ErrInvalidRequest, "member_id and option_value_id are required"))
	}
	if entry.Quantity < 1 {
		return tracing.Fail(span, domain.NewOptionError(domain.ErrInvalidQuantity, entry.OptionID, entry.Quantity, 0))
	}
	// 规格值必须在目录中存在
	if _, err := s.catalog.GetProductByOption(ctx, entry.OptionID); err != nil {
		return tracing.Fail(span, err)
	}
	if err := s.carts.Put(ctx, entry); err != nil {
		return tracing.Fail(span, errors.Wrap(err, "save cart entry"))
	}
	return nil
}

func (s *CartService) RemoveEntry(ctx context.Context, memberID, optionID string) error {
	if memberID == "" || optionID == "" {
		return errors.Wrap(domain.ErrInvalidRequest, "member_id and option_value_id are required")
	}
	return s.carts.Remove(ctx, memberID, optionID)
}

func (s *CartService) Clear(ctx context.Context, memberID string) error {
	if memberID == "" {
		return errors.Wrap(domain.ErrInvalidRequest, "member_id is required")
	}
	return s.carts.Clear(ctx, memberID)
}

// ListCart 合并购物车条目与实时商品快照，计算每行价格。已下架的规格值被跳过
func (s *CartService) ListCart(ctx context.Context, memberID string) ([]CartLine, error) {
	ctx, span := s.tracer.Start(ctx, "service.ListCart")
	defer span.End()
	span.SetAttributes(attribute.String("member.id", memberID))

	if memberID == "" {
		return nil, tracing.Fail(span, errors.Wrap(domain.ErrInvalidRequest, "member_id is required"))
	}
	entries, err := s.carts.List(ctx, memberID)
	if err != nil {
		return nil, tracing.Fail(span, errors.Wrap(err, "load cart"))
	}

	lines := make([]*CartLine, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(catalogConcurrency)
	for i, entry := range entries {
		g.Go(func() error {
			product, err := s.catalog.GetProductByOption(gctx, entry.OptionID)
			if errors.Is(err, domain.ErrProductNotFound) {
				logger.Ctx(gctx).Warn().
					Str("member_id", memberID).
					Str("option_id", entry.OptionID).
					Msg("cart entry refers to a missing product, skipped")
				return nil
			}
			if err != nil {
				return err
			}
			line := buildCartLine(entry, product)
			lines[i] = &line
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, tracing.Fail(span, errors.Wrap(err, "load catalog snapshots"))
	}

	out := make([]CartLine, 0, len(lines))
	for _, l := range lines {
		if l != nil {
			out = append(out, *l)
		}
	}
	span.SetAttributes(attribute.Int("cart.lines", len(out)))
	return out, nil
}

// PreviewCheckout 按店铺汇总购物车并计算运费
func (s *CartService) PreviewCheckout(ctx context.Context, memberID string) (*CheckoutPreview, error) {
	ctx, span := s.tracer.Start(ctx, "service.PreviewCheckout")
	defer span.End()

	lines, err := s.ListCart(ctx, memberID)
	if err != nil {
		return nil, tracing.Fail(span, err)
	}

	preview := &CheckoutPreview{MemberID: memberID, Stores: []StoreCheckout{}}
	index := make(map[string]int)
	for _, line := range lines {
		i, ok := index[line.StoreID]
		if !ok {
			i = len(preview.Stores)
			index[line.StoreID] = i
			preview.Stores = append(preview.Stores, StoreCheckout{StoreID: line.StoreID})
		}
		sc := &preview.Stores[i]
		sc.Lines = append(sc.Lines, line)
		sc.TotalQuantity += line.Quote.Quantity
		sc.TotalAmount += line.Quote.LineTotal
	}

	for i := range preview.Stores {
		sc := &preview.Stores[i]
		fee, _, err := s.delivery.Resolve(ctx, sc.StoreID, sc.TotalQuantity, sc.TotalAmount)
		if err != nil {
			return nil, tracing.Fail(span, err)
		}
		sc.DeliveryFee = fee
		sc.PayAmount = sc.TotalAmount + fee
		preview.GrandTotal += sc.PayAmount

		// 店铺名只用于展示，查询失败不影响结算
		if store, err := s.catalog.GetStore(ctx, sc.StoreID); err == nil {
			sc.StoreName = store.Name
		} else {
			logger.Ctx(ctx).Warn().Err(err).Str("store_id", sc.StoreID).Msg("failed to load store snapshot")
		}
	}
	return preview, nil
}

func buildCartLine(entry domain.CartEntry, product *domain.ProductSnapshot) CartLine {
	line := CartLine{
		OptionID:    entry.OptionID,
		OptionName:  product.Option.Name,
		ProductID:   product.ID,
		ProductName: product.Name,
		StoreID:     product.StoreID,
		Quote:       domain.Quote(entry, product.BasePrice, product.Option, product.DiscountAmount),
	}
	if img, ok := domain.ResolveImage(product.Images); ok {
		line.Image = &img
	}
	return line
}
