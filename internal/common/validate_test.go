package common_test

import (
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pos/internal/common"
)

type paymentInput struct {
	Method string          `json:"paymentMethod" validate:"required,oneof=cash card"`
	Amount decimal.Decimal `json:"amountPaid" validate:"gte=0"`
}

func TestValidatorUsesJSONNamesAndDecimals(t *testing.T) {
	v := common.NewValidator()

	require.NoError(t, v.Struct(paymentInput{Method: "cash", Amount: decimal.RequireFromString("10.50")}))

	err := v.Struct(paymentInput{Method: "cheque", Amount: decimal.NewFromInt(-1)})
	require.Error(t, err)
	appErr := common.ValidationError(err)
	require.Equal(t, http.StatusUnprocessableEntity, appErr.HTTPStatus)
	details, ok := appErr.Details.([]common.ValidationDetail)
	require.True(t, ok)
	require.Len(t, details, 2)
	require.Equal(t, "paymentInput.paymentMethod", details[0].Field)
	require.Equal(t, "must be one of: cash card", details[0].Message)
	require.Equal(t, "paymentInput.amountPaid", details[1].Field)
}
