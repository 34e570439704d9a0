package router

import (
	"net/http"

	"github.com/gradelab/buyback-service/internal/handlers"
)

func InitRoutes(offerHandler *handlers.OfferHandler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/ping", handlers.PingHandler)

	mux.HandleFunc("POST /api/offers/new", offerHandler.CreateOffer)
	mux.HandleFunc("GET /api/offers", offerHandler.GetOffers)
	mux.HandleFunc("GET /api/offers/customer/{customerId}", offerHandler.GetCustomerOffers)
	mux.HandleFunc("GET /api/offers/{offerId}", offerHandler.GetOffer)
	mux.HandleFunc("DELETE /api/offers/{offerId}", offerHandler.DeleteOffer)

	mux.HandleFunc("POST /api/offers/{offerId}/accept", offerHandler.AcceptOffer)
	mux.HandleFunc("POST /api/offers/{offerId}/decline", offerHandler.DeclineOffer)
	mux.HandleFunc("POST /api/offers/{offerId}/counter", offerHandler.CounterOffer)
	mux.HandleFunc("POST /api/offers/{offerId}/counter/respond", offerHandler.RespondToCounter)
	mux.HandleFunc("POST /api/offers/{offerId}/cancel", offerHandler.CancelOffer)

	mux.HandleFunc("POST /api/offers/{offerId}/payment", offerHandler.InitiatePayment)
	mux.HandleFunc("POST /api/offers/{offerId}/payment/confirm", offerHandler.ConfirmPayment)

	return mux
}
