// Command seeder loads a demo catalog and, optionally, prints development
// tokens for each role.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pos/internal/app"
	"github.com/noah-isme/toko-pos/internal/auth"
	"github.com/noah-isme/toko-pos/internal/catalog"
	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/config"
	"github.com/noah-isme/toko-pos/internal/obs"
)

func main() {
	printTokens := flag.Bool("tokens", false, "print a development token per role")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := obs.NewLogger("console", cfg.Obs.LogLevel).With().Str("tool", "seeder").Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	deps, err := app.Build(ctx, cfg, &logger, app.Options{Migrate: true, ApplicationName: "toko-pos-seeder"})
	if err != nil {
		log.Fatalf("initialise dependencies: %v", err)
	}
	defer func() { _ = deps.Close() }()

	fmt.Println("Seeding Products...")
	products, failed := seedProducts(ctx, deps.Catalog)
	fmt.Println("Seeding Customers...")
	customers, cfailed := seedCustomers(ctx, deps.Catalog)
	failed += cfailed
	log.Printf("Seeded %d products and %d customers (%d failed)", products, customers, failed)

	if *printTokens {
		if cfg.Production() {
			log.Fatal("refusing to print tokens in production")
		}
		svc, err := auth.NewService(auth.Config{
			Secret:         cfg.JWTSecret,
			AccessTokenTTL: cfg.AccessTokenTTL,
			Issuer:         cfg.JWTIssuer,
			Audience:       cfg.JWTAudience,
		})
		if err != nil {
			log.Fatalf("auth service: %v", err)
		}
		for _, actor := range demoActors() {
			token, exp, err := svc.IssueToken(actor)
			if err != nil {
				log.Fatalf("issue token for %s: %v", actor.Email, err)
			}
			fmt.Printf("%-11s %s (expires %s)\n", actor.Role, token, exp.Format(time.RFC3339))
		}
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func demoProducts() []catalog.Product {
	return []catalog.Product{
		{
			ID: "aceite-1l", Name: "Aceite Girasol 1L", Category: "abarrotes", Barcode: "7750000000011",
			Price: dec("10.50"), PurchasePrice: dec("7.80"), Stock: dec("240"),
			WholesaleTiers: []catalog.Tier{
				{MinQuantity: dec("6"), UnitPrice: dec("9.90")},
				{MinQuantity: dec("12"), UnitPrice: dec("9.40")},
			},
		},
		{
			ID: "agua-600", Name: "Agua 600ml", Category: "bebidas",
			Price: dec("1.50"), PurchasePrice: dec("0.80"), Stock: dec("600"),
			Bonuses: []catalog.BonusRule{
				{Enabled: true, Threshold: dec("12"), FreeProductID: "agua-600", FreeQuantity: dec("1")},
			},
		},
		{
			ID: "gaseosa-3l", Name: "Gaseosa 3L", Category: "bebidas",
			Price: dec("12"), SalePrice: decPtr("10.90"), PurchasePrice: dec("8.20"), Stock: dec("90"),
			Bonuses: []catalog.BonusRule{
				{Enabled: true, Threshold: dec("6"), FreeProductID: "vaso-desc", FreeQuantity: dec("6")},
			},
		},
		{
			ID: "vaso-desc", Name: "Vaso descartable", Category: "limpieza",
			Price: dec("0.10"), PurchasePrice: dec("0.04"), Stock: dec("5000"),
		},
		{
			ID: "arroz-granel", Name: "Arroz a granel", Category: "abarrotes", Measure: catalog.MeasureWeight,
			Price: dec("4.20"), PurchasePrice: dec("3.10"), Stock: dec("350.5"),
			WholesaleTiers: []catalog.Tier{{MinQuantity: dec("25"), UnitPrice: dec("3.90")}},
		},
		{
			ID: "azucar-granel", Name: "Azúcar rubia a granel", Category: "abarrotes", Measure: catalog.MeasureWeight,
			Price: dec("3.60"), PurchasePrice: dec("2.70"), Stock: dec("180"),
		},
		{
			ID: "detergente-900", Name: "Detergente 900g", Category: "limpieza",
			Price: dec("8.90"), PurchasePrice: dec("6.10"), Stock: dec("75"),
		},
	}
}

func demoCustomers() []catalog.Customer {
	return []catalog.Customer{
		{ID: "bodega-rosa", FirstName: "Rosa", LastName: "Quispe", Phone: "999111222", Discount: dec("5"), CreditLimit: decPtr("500"), RouteID: "norte"},
		{ID: "minimarket-luz", FirstName: "Luz", LastName: "Huamán", Phone: "999333444", Discount: dec("0"), CreditLimit: decPtr("1200"), RouteID: "norte"},
		{ID: "tienda-pedro", FirstName: "Pedro", LastName: "Flores", Phone: "999555666", Discount: dec("2.5"), RouteID: "sur"},
		{ID: "cliente-mostrador", FirstName: "Cliente", LastName: "Mostrador", Discount: dec("0")},
	}
}

func demoActors() []common.Actor {
	return []common.Actor{
		{ID: "dev-admin", Email: "admin@toko.test", Role: common.RoleAdmin},
		{ID: "dev-seller", Email: "seller@toko.test", Role: common.RoleUser},
		{ID: "dev-driver", Email: "driver@toko.test", Role: common.RoleDelivery},
	}
}

func seedProducts(ctx context.Context, svc *catalog.Service) (seeded, failed int) {
	for _, p := range demoProducts() {
		if _, err := svc.SaveProduct(ctx, p); err != nil {
			log.Printf("Failed to seed product %s: %v", p.ID, err)
			failed++
			continue
		}
		seeded++
	}
	return seeded, failed
}

func seedCustomers(ctx context.Context, svc *catalog.Service) (seeded, failed int) {
	for _, c := range demoCustomers() {
		if _, err := svc.SaveCustomer(ctx, c); err != nil {
			log.Printf("Failed to seed customer %s: %v", c.ID, err)
			failed++
			continue
		}
		seeded++
	}
	return seeded, failed
}
