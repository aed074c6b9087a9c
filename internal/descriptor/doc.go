// Package descriptor is the catalog of semantic properties each Zigbee
// device model exposes and of the pure functions that translate them.
//
// A Descriptor describes one property ("state", "brightness") and names the
// Transform that converts between semantic and wire values. A Model groups a
// model's descriptors with the cascade and sync rules that apply to it and
// its one-time configure procedure.
//
// Transforms and rules are registered once, keyed by id, and only ever
// resolved through the Registry. Descriptors never carry code.
//
// Models come from two sources: the curated catalog (catalog.yaml, embedded)
// and the capability list the coordinator reports for each device
// ("exposes"). Curated definitions win; derived descriptors only fill gaps.
// Unknown models fall back to the common descriptor set plus whatever the
// coordinator reports.
//
//	reg := descriptor.NewRegistry()
//	if err := reg.LoadCatalog(descriptor.BuiltinCatalog()); err != nil {
//	    return err
//	}
//	model := reg.DescribeModel("LED1545G12", exposes)
//	d, err := model.Descriptor("brightness")
package descriptor
