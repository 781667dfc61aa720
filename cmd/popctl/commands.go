package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"pop-reconciliation-backend/internal/config"
	"pop-reconciliation-backend/internal/repository"
	"pop-reconciliation-backend/internal/services/reconciliation"
	"pop-reconciliation-backend/internal/services/verification"
	"pop-reconciliation-backend/internal/statement"
)

func newService() (*reconciliation.ReconciliationService, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	db, err := config.InitDB(cfg)
	if err != nil {
		return nil, err
	}

	payments := repository.NewPaymentRepository(db)
	return reconciliation.NewReconciliationService(
		repository.NewInvoiceRepository(db),
		repository.NewBankTransactionRepository(db),
		payments,
		verification.NewService(payments, nil),
	), nil
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Match bank lines and invoices against verified payments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			res, err := svc.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("matches: %d (bank %d, invoice %d)\n", res.Matches, res.BankMatches, res.InvoiceMatches)
			return nil
		},
	}
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import a bank statement (.csv, .xlsx or .pdf)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			parser, err := statement.ForFilename(path)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			rows, err := parser.Normalize(data)
			if err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}

			source, _ := cmd.Flags().GetString("source")
			svc, err := newService()
			if err != nil {
				return err
			}
			res, err := svc.ImportTransactions(cmd.Context(), source, filepath.Base(path), rows)
			if err != nil {
				return err
			}
			fmt.Printf("batch %s: imported %d, skipped %d, invalid %d\n", res.BatchID, res.Count, res.Skipped, res.Invalid)
			return nil
		},
	}

	cmd.Flags().StringP("source", "s", reconciliation.SourceUpload, "Source tag recorded on the batch")

	return cmd
}

func undoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "undo [batchId]",
		Short: "Delete every bank line of an import batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid batch id: %w", err)
			}
			svc, err := newService()
			if err != nil {
				return err
			}
			deleted, err := svc.UndoImport(cmd.Context(), batchID)
			if err != nil {
				return err
			}
			fmt.Printf("batch %s undone, %d rows deleted\n", batchID, deleted)
			return nil
		},
	}
}
