package ml

import "github.com/Veraticus/smsledger/internal/model"

// seedCorpus primes the type classifier before anything is learned.
var seedCorpus = map[model.TransactionType][]string{
	model.TypeExpense: {
		"you spent usd # at shop on date",
		"purchase of # at merchant using your card ending #",
		"your card was charged # at store",
		"pos purchase # egp at market",
		"payment of # made to merchant",
		"debited from your account for purchase",
		"atm withdrawal of # from your account",
		"bill payment successful amount #",
		"تم خصم مبلغ # جنيه من بطاقتك لدى",
		"عملية شراء بمبلغ # ريال من",
		"تم سحب # من حسابك",
		"دفع فاتورة بقيمة #",
	},
	model.TypeIncome: {
		"salary of # credited to your account",
		"you received # from sender",
		"refund of # has been credited",
		"deposit of # received in your account",
		"cashback # credited to your card",
		"incoming transfer of # received",
		"تم إيداع مبلغ # في حسابك",
		"تم اضافة # جنيه الى حسابك",
		"استلمت حوالة واردة بمبلغ #",
		"تم استرداد مبلغ # الى بطاقتك",
		"راتب شهر # تم ايداعه",
	},
	model.TypeTransfer: {
		"transfer of # from account # to account #",
		"you moved # between your accounts",
		"internal transfer # to savings",
		"funds transferred to your own account",
		"تحويل # من حسابك الى حسابك",
		"تم تحويل مبلغ # بين حساباتك",
	},
}
