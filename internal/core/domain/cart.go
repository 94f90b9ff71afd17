package domain

// CartLine is one menu item in the cart. Qty is always at least 1; a line
// that would drop to zero is removed instead.
type CartLine struct {
	Item MenuItem `json:"menu"`
	Qty  int      `json:"qty"`
}

func (l CartLine) Total() Amount {
	return l.Item.Price * Amount(l.Qty)
}
