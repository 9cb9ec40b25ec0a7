package events

import (
	"strconv"

	"lendcore/core/types"
	"lendcore/crypto"
)

const (
	TypeRegistryMasterRegistered = "registry.master_registered"
	TypeRegistryMarketDeployed   = "registry.market_deployed"
	TypeRegistrySwapperUpdated   = "registry.swapper_updated"
	TypeRegistryPauseUpdated     = "registry.pause_updated"
	TypeRegistryOwnerUpdated     = "registry.owner_updated"
)

// RegistryMasterRegistered records a new market template.
type RegistryMasterRegistered struct {
	Registry crypto.Address
	Name     string
	Kind     string
}

func (RegistryMasterRegistered) EventType() string { return TypeRegistryMasterRegistered }

func (e RegistryMasterRegistered) Event() *types.Event {
	return &types.Event{Type: TypeRegistryMasterRegistered, Attributes: map[string]string{
		"registry": addressString(e.Registry),
		"name":     e.Name,
		"kind":     e.Kind,
	}}
}

// RegistryMarketDeployed records a market cloned from a template.
type RegistryMarketDeployed struct {
	Registry     crypto.Address
	Market       crypto.Address
	Master       string
	CollateralID uint32
	AssetID      uint32
	Reference    bool
}

func (RegistryMarketDeployed) EventType() string { return TypeRegistryMarketDeployed }

func (e RegistryMarketDeployed) Event() *types.Event {
	return &types.Event{Type: TypeRegistryMarketDeployed, Attributes: map[string]string{
		"registry":     addressString(e.Registry),
		"market":       addressString(e.Market),
		"master":       e.Master,
		"collateralId": uintString(uint64(e.CollateralID)),
		"assetId":      uintString(uint64(e.AssetID)),
		"reference":    strconv.FormatBool(e.Reference),
	}}
}

// RegistrySwapperUpdated records a swap venue whitelist change.
type RegistrySwapperUpdated struct {
	Registry crypto.Address
	Swapper  crypto.Address
	Allowed  bool
}

func (RegistrySwapperUpdated) EventType() string { return TypeRegistrySwapperUpdated }

func (e RegistrySwapperUpdated) Event() *types.Event {
	return &types.Event{Type: TypeRegistrySwapperUpdated, Attributes: map[string]string{
		"registry": addressString(e.Registry),
		"swapper":  addressString(e.Swapper),
		"allowed":  strconv.FormatBool(e.Allowed),
	}}
}

// RegistryPauseUpdated records a protocol-wide module pause toggle.
type RegistryPauseUpdated struct {
	Registry crypto.Address
	Module   string
	Paused   bool
}

func (RegistryPauseUpdated) EventType() string { return TypeRegistryPauseUpdated }

func (e RegistryPauseUpdated) Event() *types.Event {
	return &types.Event{Type: TypeRegistryPauseUpdated, Attributes: map[string]string{
		"registry": addressString(e.Registry),
		"module":   e.Module,
		"paused":   strconv.FormatBool(e.Paused),
	}}
}

// RegistryOwnerUpdated records an ownership or treasury change.
type RegistryOwnerUpdated struct {
	Registry crypto.Address
	Owner    crypto.Address
	Treasury crypto.Address
}

func (RegistryOwnerUpdated) EventType() string { return TypeRegistryOwnerUpdated }

func (e RegistryOwnerUpdated) Event() *types.Event {
	return &types.Event{Type: TypeRegistryOwnerUpdated, Attributes: map[string]string{
		"registry": addressString(e.Registry),
		"owner":    addressString(e.Owner),
		"treasury": addressString(e.Treasury),
	}}
}
