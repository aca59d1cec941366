package event

// Kind categorises an admin notification.
type Kind string

const (
	KindPurchase Kind = "purchase"
	KindPayment  Kind = "payment"
	KindLowStock Kind = "low_stock"
	KindSystem   Kind = "system"
	KindError    Kind = "error"
)

// Kinds lists every known kind. New kinds are added here and in Display.
func Kinds() []Kind {
	return []Kind{KindPurchase, KindPayment, KindLowStock, KindSystem, KindError}
}

// Display holds the presentation configuration for a kind.
type Display struct {
	Label string
	Icon  string
	Sound string
}

// Display returns the presentation configuration for the kind. The switch is
// total over Kinds(); unknown values are normalised to KindSystem at the wire
// boundary and never reach here.
func (k Kind) Display() Display {
	switch k {
	case KindPurchase:
		return Display{Label: "New purchase", Icon: "cart", Sound: "success"}
	case KindPayment:
		return Display{Label: "Payment confirmed", Icon: "card", Sound: "success"}
	case KindLowStock:
		return Display{Label: "Low stock", Icon: "package", Sound: "warning"}
	case KindError:
		return Display{Label: "Error", Icon: "alert", Sound: "error"}
	default:
		return Display{Label: "System", Icon: "bell", Sound: "default"}
	}
}

// wireKinds maps the backend's Spanish "tipo" values to kinds.
var wireKinds = map[string]Kind{
	"nueva_compra": KindPurchase,
	"nuevo_pago":   KindPayment,
	"stock_bajo":   KindLowStock,
	"sistema":      KindSystem,
	"error":        KindError,
}

// wireNames is the reverse of wireKinds, used when emitting events.
var wireNames = func() map[Kind]string {
	m := make(map[Kind]string, len(wireKinds))
	for name, k := range wireKinds {
		m[k] = name
	}
	return m
}()

// ParseKind maps a wire "tipo" value to a Kind. Values the backend added
// after this client was built degrade to KindSystem rather than failing.
func ParseKind(tipo string) Kind {
	if k, ok := wireKinds[tipo]; ok {
		return k
	}
	return KindSystem
}

// WireName returns the backend "tipo" value for the kind.
func (k Kind) WireName() string {
	if name, ok := wireNames[k]; ok {
		return name
	}
	return wireNames[KindSystem]
}
