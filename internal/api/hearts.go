package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/meghan/community-chat/internal/ledger"
)

type transactionsResponse struct {
	Transactions []ledger.Transaction `json:"transactions"`
}

func (s *Server) heartsBalance(c echo.Context) error {
	b, err := s.deps.Ledger.Balance(c.Request().Context(), identity(c).UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (s *Server) heartsTransactions(c echo.Context) error {
	limit, offset := pageParams(c)
	if limit > maxPageSize {
		limit = maxPageSize
	}
	txs, err := s.deps.Ledger.History(c.Request().Context(), identity(c).UserID, limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, transactionsResponse{Transactions: txs})
}
