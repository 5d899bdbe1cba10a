package domain

type OrderStatus string

const (
	StatusPlaced         OrderStatus = "Order Placed"
	StatusConfirmed      OrderStatus = "Confirmed"
	StatusProcessing     OrderStatus = "Processing"
	StatusPacked         OrderStatus = "Packed"
	StatusShipped        OrderStatus = "Shipped"
	StatusOutForDelivery OrderStatus = "Out for Delivery"
	StatusDelivered      OrderStatus = "Delivered"

	StatusCancelled      OrderStatus = "Cancelled"
	StatusReturned       OrderStatus = "Returned"
	StatusReturnApproved OrderStatus = "Return Approved"
	StatusReturnRejected OrderStatus = "Return Rejected"
)

// forwardSequence is the declared total order of the happy path.
var forwardSequence = []OrderStatus{
	StatusPlaced,
	StatusConfirmed,
	StatusProcessing,
	StatusPacked,
	StatusShipped,
	StatusOutForDelivery,
	StatusDelivered,
}

// ForwardIndex returns the position of s on the happy path,
// or false for side statuses (Cancelled, Returned, ...).
func ForwardIndex(s OrderStatus) (int, bool) {
	for i, st := range forwardSequence {
		if st == s {
			return i, true
		}
	}
	return -1, false
}

// StatusesBetween returns every status after from, up to and including to,
// in forward order. Empty when either status is off the happy path or when
// to does not come strictly after from.
func StatusesBetween(from, to OrderStatus) []OrderStatus {
	fi, ok := ForwardIndex(from)
	if !ok {
		return nil
	}
	ti, ok := ForwardIndex(to)
	if !ok || ti <= fi {
		return nil
	}
	out := make([]OrderStatus, 0, ti-fi)
	for i := fi + 1; i <= ti; i++ {
		out = append(out, forwardSequence[i])
	}
	return out
}
