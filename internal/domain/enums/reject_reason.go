package enums

// RejectReason is the closed set of pre-flight rejections shown to purchasers.
type RejectReason string

const (
	RejectReasonInvalidRequest   RejectReason = "INVALID_REQUEST"
	RejectReasonItemNotFound     RejectReason = "ITEM_NOT_FOUND"
	RejectReasonItemUnavailable  RejectReason = "ITEM_UNAVAILABLE"
	RejectReasonAlreadyPurchased RejectReason = "ALREADY_PURCHASED"
	RejectReasonAmountMismatch   RejectReason = "AMOUNT_MISMATCH"
	RejectReasonCurrencyMismatch RejectReason = "CURRENCY_MISMATCH"
)

// VerifyFailure is recorded on a payment record when a completion proof is rejected.
type VerifyFailure string

const (
	VerifyFailureMalformedProof     VerifyFailure = "MALFORMED_PROOF"
	VerifyFailureOrderMismatch      VerifyFailure = "ORDER_MISMATCH"
	VerifyFailureSignatureMismatch  VerifyFailure = "SIGNATURE_MISMATCH"
	VerifyFailureAmountMismatch     VerifyFailure = "AMOUNT_MISMATCH"
	VerifyFailureCurrencyMismatch   VerifyFailure = "CURRENCY_MISMATCH"
	VerifyFailurePaymentNotCaptured VerifyFailure = "PAYMENT_NOT_CAPTURED"
)
