// inspector 运维排查工具：按 trade id 打印交易全貌
// （状态、报价、账本流水、余额），直接读数据库。
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/skinvault/escrowd/internal/config"
	"github.com/skinvault/escrowd/internal/pkg/logger"
	"github.com/skinvault/escrowd/internal/repository"
)

func main() {
	tradeID := flag.String("trade", "", "trade id to inspect")
	user := flag.String("balance", "", "user id to print the balance of")
	flag.Parse()

	logger.Init("error")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	db, err := repository.NewDB(cfg)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	ledger := repository.NewPostgresLedgerRepo(db)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if *user != "" {
		balance, err := ledger.GetBalance(ctx, *user)
		if err != nil {
			log.Fatalf("balance: %v", err)
		}
		fmt.Printf("balance[%s] = %s\n", *user, balance)
	}

	if *tradeID == "" {
		if *user == "" {
			flag.Usage()
		}
		return
	}

	trade, err := ledger.GetTrade(ctx, *tradeID)
	if err != nil {
		log.Fatalf("trade: %v", err)
	}

	fmt.Println("--- Trade ---")
	fmt.Printf("id:            %s\n", trade.ID)
	fmt.Printf("status:        %s (paid=%v)\n", trade.Status, trade.Paid)
	fmt.Printf("buyer/seller:  %s / %s\n", trade.BuyerID, trade.SellerID)
	fmt.Printf("item:          %s (asset %s)\n", trade.ItemRef, trade.AssetID)
	fmt.Printf("price/fee/out: %s / %s / %s\n", trade.Price, trade.Fee, trade.Payout)
	fmt.Printf("bot:           %s\n", trade.BotID)
	fmt.Printf("offers:        seller=%s buyer=%s\n", trade.SellerOfferID, trade.BuyerOfferID)
	if trade.ReceivedAt != nil {
		fmt.Printf("received_at:   %s\n", trade.ReceivedAt.Format(time.RFC3339))
	}
	fmt.Printf("created_at:    %s\n", trade.CreatedAt.Format(time.RFC3339))

	txns, err := ledger.TransactionsForTrade(ctx, *tradeID)
	if err != nil {
		log.Fatalf("transactions: %v", err)
	}
	fmt.Println("--- Ledger ---")
	if len(txns) == 0 {
		fmt.Println("(no transactions)")
	}
	for _, txn := range txns {
		fmt.Printf("%s  %-14s %-12s %10s\n",
			txn.CreatedAt.Format(time.RFC3339), txn.Kind, txn.UserID, txn.Amount)
	}
}
