package api

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aionpay/relayer/core/services/relayer/validator"
)

func validSubmitRequest() submitRequest {
	return submitRequest{
		From:            "0x0000000000000000000000000000000000000001",
		To:              "0x0000000000000000000000000000000000000002",
		Amount:          "1.5",
		Nonce:           "0xabc123",
		Deadline:        9999999999,
		Signature:       "0xdeadbeef",
		ContractAddress: "0x0000000000000000000000000000000000000003",
	}
}

func TestValidateShape_AcceptsWellFormedRequest(t *testing.T) {
	require.Empty(t, validateShape(validSubmitRequest()))
}

func TestValidateShape_RejectsMalformedAddress(t *testing.T) {
	req := validSubmitRequest()
	req.From = "not-an-address"
	errs := validateShape(req)
	require.Contains(t, errs, "from must match 0x[0-9a-f]{40}")
}

func TestValidateShape_RejectsBadTokenAddressOnlyWhenPresent(t *testing.T) {
	req := validSubmitRequest()
	require.Empty(t, validateShape(req), "empty tokenAddress is valid (native transfer)")

	req.TokenAddress = "nope"
	errs := validateShape(req)
	require.Contains(t, errs, "tokenAddress must match 0x[0-9a-f]{40}")
}

func TestValidateShape_RejectsNonPositiveAmount(t *testing.T) {
	req := validSubmitRequest()
	req.Amount = "0"
	errs := validateShape(req)
	require.Contains(t, errs, "amount must parse positive")

	req.Amount = "not-a-number"
	errs = validateShape(req)
	require.Contains(t, errs, "amount must parse positive")
}

func TestValidateShape_RejectsNonPositiveDeadline(t *testing.T) {
	req := validSubmitRequest()
	req.Deadline = 0
	errs := validateShape(req)
	require.Contains(t, errs, "deadline must be a positive integer")
}

func TestFlagErrors_FallsBackWhenNoErrorsRecorded(t *testing.T) {
	errs := flagErrors(validator.Verdict{Errors: map[string]string{}})
	require.Equal(t, []string{"validation failed"}, errs)
}

func TestFlagErrors_ReturnsEveryRecordedMessage(t *testing.T) {
	errs := flagErrors(validator.Verdict{Errors: map[string]string{
		"deadlineValid": "deadline has expired",
	}})
	require.Equal(t, []string{"deadline has expired"}, errs)
}

func TestDecodeSignature_DecodesHexToRawBytes(t *testing.T) {
	sig, err := decodeSignature("0x112233")
	require.NoError(t, err)
	require.Equal(t, []byte{0x11, 0x22, 0x33}, sig)
}

func TestDecodeSignature_RejectsMalformedHex(t *testing.T) {
	_, err := decodeSignature("0xzz")
	require.Error(t, err)
}

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	require.Equal(t, int64(42), id)

	_, err = parseID("not-a-number")
	require.Error(t, err)
}
