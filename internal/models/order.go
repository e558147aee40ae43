package models

import "time"

// OrderSummaryRequest is the request body for summarising an order
type OrderSummaryRequest struct {
	JockeyID string `json:"jockey_id"`
	Game     string `json:"game"`
	FromRank string `json:"from_rank"`
	ToRank   string `json:"to_rank"`
}

// OrderSummary tells a buyer what to pay and where.
type OrderSummary struct {
	JockeyID    string    `json:"jockey_id"`
	JockeyName  string    `json:"jockey_name"`
	Game        string    `json:"game"`
	FromRank    string    `json:"from_rank"`
	ToRank      string    `json:"to_rank"`
	Price       int64     `json:"price"`
	VANumber    string    `json:"va_number"`
	AccountName string    `json:"account_name"`
	PayBefore   time.Time `json:"pay_before"`
}
