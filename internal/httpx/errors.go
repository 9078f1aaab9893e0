package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Line      *int   `json:"line,omitempty"`
	Field     string `json:"field,omitempty"`
	ProductID string `json:"product_id,omitempty"`
	Requested *int   `json:"requested,omitempty"`
	Available *int   `json:"available,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orders.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, orders.ErrAuthenticationRequired):
		return http.StatusUnauthorized
	case errors.Is(err, orders.ErrProductNotFound), errors.Is(err, orders.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrInsufficientStock),
		errors.Is(err, orders.ErrTransactionConflict),
		errors.Is(err, orders.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error":{...}}. Persistence faults never leak
// driver text to the client.
func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	d := errorDetail{Code: orders.Kind(err), Message: err.Error()}

	var ve *orders.ValidationError
	var pnf *orders.ProductNotFoundError
	var ise *orders.InsufficientStockError
	switch {
	case errors.As(err, &ve):
		if ve.Line >= 0 {
			d.Line = &ve.Line
		}
		d.Field = ve.Field
	case errors.As(err, &pnf):
		d.ProductID = pnf.ProductID.String()
	case errors.As(err, &ise):
		d.ProductID = ise.ProductID.String()
		d.Requested = &ise.Requested
		d.Available = &ise.Available
	}

	switch {
	case errors.Is(err, orders.ErrTransactionConflict):
		d.Message = "order could not be placed due to a concurrent update, retry"
		w.Header().Set("Retry-After", "1")
	case code == http.StatusInternalServerError:
		d.Message = "internal error"
	}
	writeJSON(w, code, errorBody{Error: d})
}
