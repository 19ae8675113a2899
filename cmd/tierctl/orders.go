package main

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/timmy/tiercache/internal/domain"
	"github.com/timmy/tiercache/internal/repository"
)

var (
	ordersCmd = &cobra.Command{
		Use:   "orders",
		Short: "Inspect and repair retrieval orders",
	}

	ordersListCmd = &cobra.Command{
		Use:          "list",
		Short:        "List the orders of a store",
		SilenceUsage: true,
		RunE:         ordersListMain,
	}

	ordersGetCmd = &cobra.Command{
		Use:   "get",
		Short: "Show one order",
		Long: `Show one order, either by store and product UUID or by the job id the
remote archive assigned to it.`,
		SilenceUsage: true,
		RunE:         ordersGetMain,
	}

	ordersFailPendingCmd = &cobra.Command{
		Use:   "fail-pending",
		Short: "Mark every pending order of a store as failed",
		Long: `Mark every pending order of a store as failed. Use this when a remote
archive is known to be unable to serve the queued requests; clients may
fetch again afterwards. Running orders are left alone.`,
		SilenceUsage: true,
		RunE:         ordersFailPendingMain,
	}

	ordersStore   string
	ordersStatus  string
	ordersLimit   int
	ordersOffset  int
	ordersProduct string
	ordersJob     string
	ordersReason  string
)

func init() {
	for _, c := range []*cobra.Command{ordersListCmd, ordersGetCmd, ordersFailPendingCmd} {
		c.Flags().StringVar(&ordersStore, "store", "", "Store name")
	}

	ordersListCmd.Flags().StringVarP(&ordersStatus, "status", "s", "", "Filter by status (pending, running, completed, failed, cancelled)")
	ordersListCmd.Flags().IntVarP(&ordersLimit, "limit", "l", 50, "Maximum number of orders to return")
	ordersListCmd.Flags().IntVarP(&ordersOffset, "offset", "o", 0, "Offset for pagination (ignored with --status)")
	ordersListCmd.MarkFlagRequired("store")

	ordersGetCmd.Flags().StringVar(&ordersProduct, "product", "", "Product UUID (requires --store)")
	ordersGetCmd.Flags().StringVar(&ordersJob, "job", "", "Remote job id")
	ordersGetCmd.MarkFlagsMutuallyExclusive("product", "job")

	ordersFailPendingCmd.Flags().StringVar(&ordersReason, "reason", "failed by operator", "Status message recorded on the orders")
	ordersFailPendingCmd.MarkFlagRequired("store")

	ordersCmd.AddCommand(ordersListCmd, ordersGetCmd, ordersFailPendingCmd)
	rootCmd.AddCommand(ordersCmd)
}

func ordersListMain(cmd *cobra.Command, args []string) error {
	_, db, err := openDB()
	if err != nil {
		return err
	}
	defer closeDB(db)
	repo := repository.NewOrderRepository(db)

	var orders []domain.Order
	if ordersStatus != "" {
		status := domain.JobStatus(ordersStatus)
		if !status.IsValid() {
			return errors.Errorf("unknown status %q", ordersStatus)
		}
		orders, err = repo.ListByStatus(cmd.Context(), ordersStore, status, ordersLimit)
	} else {
		orders, err = repo.ListByStore(cmd.Context(), ordersStore, ordersLimit, ordersOffset)
	}
	if err != nil {
		return errors.Wrap(err, "failed to list orders")
	}

	if outputJSON {
		return printJSON(orders)
	}
	if len(orders) == 0 {
		fmt.Println("No orders found")
		return nil
	}

	fmt.Printf("%-38s %-10s %-24s %-20s %s\n", "Product", "Status", "Job", "Updated", "Message")
	for _, o := range orders {
		fmt.Printf("%-38s %-10s %-24s %-20s %s\n",
			o.ProductUUID,
			o.Status,
			o.RemoteJobID(),
			o.UpdatedAt.Format(time.RFC3339),
			o.StatusMessage)
	}
	return nil
}

func ordersGetMain(cmd *cobra.Command, args []string) error {
	_, db, err := openDB()
	if err != nil {
		return err
	}
	defer closeDB(db)
	repo := repository.NewOrderRepository(db)

	var order *domain.Order
	switch {
	case ordersJob != "":
		order, err = repo.GetByJobID(cmd.Context(), ordersJob)
	case ordersProduct != "" && ordersStore != "":
		order, err = repo.Get(cmd.Context(), ordersStore, ordersProduct)
	default:
		return errors.New("either --job or both --store and --product are required")
	}
	if err != nil {
		return errors.Wrap(err, "failed to get order")
	}
	if order == nil {
		return errors.New("order not found")
	}

	if outputJSON {
		return printJSON(order)
	}
	fmt.Printf("Order:    %s\n", order.ID)
	fmt.Printf("Store:    %s\n", order.StoreName)
	fmt.Printf("Product:  %s\n", order.ProductUUID)
	fmt.Printf("Status:   %s\n", order.Status)
	fmt.Printf("Job:      %s\n", order.RemoteJobID())
	if order.EstimatedCompletion != nil {
		fmt.Printf("ETA:      %s\n", order.EstimatedCompletion.Format(time.RFC3339))
	}
	fmt.Printf("Message:  %s\n", order.StatusMessage)
	fmt.Printf("Updated:  %s\n", order.UpdatedAt.Format(time.RFC3339))
	return nil
}

func ordersFailPendingMain(cmd *cobra.Command, args []string) error {
	_, db, err := openDB()
	if err != nil {
		return err
	}
	defer closeDB(db)

	n, err := repository.NewOrderRepository(db).FailPending(cmd.Context(), ordersStore, ordersReason)
	if err != nil {
		return errors.Wrap(err, "failed to fail pending orders")
	}
	fmt.Printf("Marked %d pending order(s) of %s as failed\n", n, ordersStore)
	return nil
}
