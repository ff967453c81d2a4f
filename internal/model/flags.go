package model

// SpecialFlags is the fixed-shape classification of a product's
// special-condition text.
type SpecialFlags struct {
	NonFaceToFace      bool `json:"is_non_face_to_face"`
	BankApp            bool `json:"is_bank_app"`
	SalaryLinked       bool `json:"is_salary_linked"`
	UtilityLinked      bool `json:"is_utility_linked"`
	CardUsage          bool `json:"is_card_usage"`
	FirstTransaction   bool `json:"is_first_transaction"`
	CheckingAccount    bool `json:"is_checking_account"`
	PensionLinked      bool `json:"is_pension_linked"`
	Redeposit          bool `json:"is_redeposit"`
	SubscriptionLinked bool `json:"is_subscription_linked"`
	RecommendCoupon    bool `json:"is_recommend_coupon"`
	AutoTransfer       bool `json:"is_auto_transfer"`
}

// SpecialFlagColumns lists the flag columns in storage order.
var SpecialFlagColumns = []string{
	"is_non_face_to_face",
	"is_bank_app",
	"is_salary_linked",
	"is_utility_linked",
	"is_card_usage",
	"is_first_transaction",
	"is_checking_account",
	"is_pension_linked",
	"is_redeposit",
	"is_subscription_linked",
	"is_recommend_coupon",
	"is_auto_transfer",
}

// Values returns the flags in SpecialFlagColumns order.
func (f SpecialFlags) Values() []any {
	return []any{
		f.NonFaceToFace,
		f.BankApp,
		f.SalaryLinked,
		f.UtilityLinked,
		f.CardUsage,
		f.FirstTransaction,
		f.CheckingAccount,
		f.PensionLinked,
		f.Redeposit,
		f.SubscriptionLinked,
		f.RecommendCoupon,
		f.AutoTransfer,
	}
}

// Any reports whether at least one flag is set.
func (f SpecialFlags) Any() bool {
	return f != SpecialFlags{}
}
