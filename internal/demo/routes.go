package demo

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codewandler/aggstore/adapters/api"
	"github.com/codewandler/aggstore/core/command"
	"github.com/codewandler/aggstore/core/es"
)

type (
	openPayload struct {
		Owner string `json:"owner"`
	}
	amountPayload struct {
		Amount int64 `json:"amount"`
	}
	labelPayload struct {
		Label string `json:"label"`
	}
)

// Routes mounts the account API on r.
func Routes(r gin.IRouter, bus *command.Bus, accounts es.TypedRepository[*Account], balances *Balances) {
	g := r.Group("/accounts")
	g.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"balances": balances.Snapshot(), "total": balances.Total()})
	})
	g.GET("/:id", api.Get(accounts))
	g.POST("/:id/open", api.Command(bus, func(m command.Meta, p openPayload) OpenAccount {
		return OpenAccount{Meta: m, Owner: p.Owner}
	}))
	g.POST("/:id/deposit", api.Command(bus, func(m command.Meta, p amountPayload) Deposit {
		return Deposit{Meta: m, Amount: p.Amount}
	}))
	g.POST("/:id/withdraw", api.Command(bus, func(m command.Meta, p amountPayload) Withdraw {
		return Withdraw{Meta: m, Amount: p.Amount}
	}))
	g.POST("/:id/label", api.Command(bus, func(m command.Meta, p labelPayload) ChangeLabel {
		return ChangeLabel{Meta: m, Label: p.Label}
	}))
	g.POST("/:id/close", api.Command(bus, func(m command.Meta, _ struct{}) CloseAccount {
		return CloseAccount{Meta: m}
	}))
}
