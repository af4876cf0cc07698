package registry_test

import (
	"testing"

	registry "civicsync/internal/registry/domain"
)

func TestNormalizeServiceType(t *testing.T) {
	for _, serviceType := range registry.AllServiceTypes() {
		got, ok := registry.NormalizeServiceType(string(serviceType))
		if !ok || got != serviceType {
			t.Fatalf("known service %q failed to normalize", serviceType)
		}
	}
	if _, ok := registry.NormalizeServiceType("gas"); ok {
		t.Fatalf("unknown service must be rejected")
	}
	if _, ok := registry.NormalizeServiceType(""); ok {
		t.Fatalf("empty service must be rejected")
	}
}

func TestServiceMetaIsClosed(t *testing.T) {
	want := map[registry.ServiceType]registry.ServiceMeta{
		registry.ServicePower:     {Name: "KSEB", Color: "#d97706"},
		registry.ServiceWater:     {Name: "KWA", Color: "#119bb0"},
		registry.ServiceChallan:   {Name: "e-Challan", Color: "#f59e0b"},
		registry.ServiceMunicipal: {Name: "K-Smart", Color: "#fbbf24"},
	}
	for serviceType, meta := range want {
		if got := serviceType.Meta(); got != meta {
			t.Fatalf("meta for %q: got %+v, want %+v", serviceType, got, meta)
		}
	}
}

func TestAccountValidate(t *testing.T) {
	valid := registry.Account{ServiceType: registry.ServicePower, ConsumerID: "1156"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid account rejected: %v", err)
	}

	if err := (registry.Account{ServiceType: "gas", ConsumerID: "1"}).Validate(); err == nil {
		t.Fatalf("unknown service type must be rejected")
	}
	if err := (registry.Account{ServiceType: registry.ServiceWater}).Validate(); err == nil {
		t.Fatalf("empty consumer id must be rejected")
	}
	if err := (registry.Account{ServiceType: registry.ServiceChallan, ConsumerID: "KL07"}).Validate(); err == nil {
		t.Fatalf("challan without number plate must be rejected")
	}
	withPlate := registry.Account{ServiceType: registry.ServiceChallan, ConsumerID: "KL07", NumberPlate: "KL-07-AB-1234"}
	if err := withPlate.Validate(); err != nil {
		t.Fatalf("challan with plate rejected: %v", err)
	}
}
