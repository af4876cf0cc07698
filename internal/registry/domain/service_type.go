package registry

// ServiceType identifies one of the supported utility services.
type ServiceType string

const (
	ServicePower     ServiceType = "kseb"
	ServiceWater     ServiceType = "kwa"
	ServiceChallan   ServiceType = "echallan"
	ServiceMunicipal ServiceType = "ksmart"
)

// AllServiceTypes lists every supported service in display order.
func AllServiceTypes() []ServiceType {
	return []ServiceType{ServicePower, ServiceWater, ServiceChallan, ServiceMunicipal}
}

// NormalizeServiceType validates a service type string.
func NormalizeServiceType(value string) (ServiceType, bool) {
	switch ServiceType(value) {
	case ServicePower, ServiceWater, ServiceChallan, ServiceMunicipal:
		return ServiceType(value), true
	default:
		return "", false
	}
}

// ServiceMeta carries the display attributes of a service type.
type ServiceMeta struct {
	Name  string
	Color string
}

// Meta returns display metadata for the service type. The switch is
// exhaustive over the closed enum; an unknown value indicates a bug
// upstream of NormalizeServiceType, not a new service.
func (s ServiceType) Meta() ServiceMeta {
	switch s {
	case ServicePower:
		return ServiceMeta{Name: "KSEB", Color: "#d97706"}
	case ServiceWater:
		return ServiceMeta{Name: "KWA", Color: "#119bb0"}
	case ServiceChallan:
		return ServiceMeta{Name: "e-Challan", Color: "#f59e0b"}
	case ServiceMunicipal:
		return ServiceMeta{Name: "K-Smart", Color: "#fbbf24"}
	}
	return ServiceMeta{Name: string(s), Color: "#94a3b8"}
}
