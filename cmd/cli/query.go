package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/souqnear/ranking-service/internal/query"
	"github.com/souqnear/ranking-service/internal/ranking"
)

var (
	queryProduct  string
	queryMarket   string
	queryLat      float64
	queryLng      float64
	queryCity     string
	queryPromo    string
	queryJSON     bool
	queryPointID  string
	queryCategory string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run read path queries against the caches",
}

var queryOffersCmd = &cobra.Command{
	Use:   "offers",
	Short: "Show the offers a shopper would see for a product",
	Example: `  ranking-service query offers --product p1 --market casa --lat 33.5731 --lng -7.5898
  ranking-service query offers --product p1 --market casa --lat 33.5731 --lng -7.5898 --promo m42 --json`,
	RunE: runQueryOffers,
}

var queryNearestCmd = &cobra.Command{
	Use:   "nearest-merchants",
	Short: "Show the cached nearest merchants of a reference point",
	RunE:  runQueryNearest,
}

var queryCommonCmd = &cobra.Command{
	Use:   "common",
	Short: "Show the cached common category offers of a reference point",
	RunE:  runQueryCommon,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.AddCommand(queryOffersCmd, queryNearestCmd, queryCommonCmd)
	queryCmd.PersistentFlags().BoolVar(&queryJSON, "json", false, "Print raw JSON")

	f := queryOffersCmd.Flags()
	f.StringVar(&queryProduct, "product", "", "Product ID")
	f.StringVar(&queryMarket, "market", "", "Market ID")
	f.Float64Var(&queryLat, "lat", 0, "Shopper latitude")
	f.Float64Var(&queryLng, "lng", 0, "Shopper longitude")
	f.StringVar(&queryCity, "city", "", "Shopper city")
	f.StringVar(&queryPromo, "promo", "", "Promoted merchant ID")
	_ = queryOffersCmd.MarkFlagRequired("product")
	_ = queryOffersCmd.MarkFlagRequired("market")
	_ = queryOffersCmd.MarkFlagRequired("lat")
	_ = queryOffersCmd.MarkFlagRequired("lng")

	queryNearestCmd.Flags().StringVar(&queryPointID, "reference-point", "", "Reference point ID")
	_ = queryNearestCmd.MarkFlagRequired("reference-point")

	f = queryCommonCmd.Flags()
	f.StringVar(&queryPointID, "reference-point", "", "Reference point ID")
	f.StringVar(&queryCategory, "category", "", "Category ID")
	f.StringVar(&queryMarket, "market", "", "Market ID")
	_ = queryCommonCmd.MarkFlagRequired("reference-point")
	_ = queryCommonCmd.MarkFlagRequired("category")
	_ = queryCommonCmd.MarkFlagRequired("market")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runQueryOffers(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.Query.GetOffers(ctx, query.OffersRequest{
		ProductID:       queryProduct,
		MarketID:        queryMarket,
		Latitude:        queryLat,
		Longitude:       queryLng,
		ClientCity:      queryCity,
		PromoMerchantID: queryPromo,
	})
	if err != nil {
		return err
	}
	if queryJSON {
		return printJSON(result)
	}

	fmt.Printf("Source: %s", result.Source)
	if result.ReferencePointID != "" {
		fmt.Printf(" (reference point %s)", result.ReferencePointID)
	}
	fmt.Println()
	if result.Message != "" {
		fmt.Println(result.Message)
		return nil
	}
	displayOffers(result.Offers)
	return nil
}

func displayOffers(offers []ranking.ScoredOffer) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "#\tMERCHANT\tCITY\tPRICE\tFEE\tSCORE\tDISTANCE\tNEAR\tPROMO")
	for i, o := range offers {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%dm\t%t\t%t\n",
			i+1, o.MerchantID, o.City, o.Price, o.DeliveryFee, o.Score, o.DistanceMeters, o.IsNearby, o.IsPromo)
	}
	w.Flush()
}

func runQueryNearest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	set, err := a.Query.GetNearestMerchants(ctx, queryPointID)
	if err != nil {
		return err
	}
	if queryJSON {
		return printJSON(set)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "#\tMERCHANT\tNAME\tCITY\tDISTANCE")
	for i, m := range set.Merchants {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%dm\n", i+1, m.MerchantID, m.BusinessName, m.City, m.DistanceMeters)
	}
	return w.Flush()
}

func runQueryCommon(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	set, err := a.Query.GetCommonCategoryOffers(ctx, queryPointID, queryCategory, queryMarket)
	if err != nil {
		return err
	}
	if queryJSON {
		return printJSON(set)
	}
	fmt.Printf("%d offers from %d merchants (calculated %s)\n",
		set.OfferCount, set.MerchantCount, set.CalculatedAt.Format("2006-01-02 15:04"))
	return nil
}
