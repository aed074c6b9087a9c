// Package influxdb records gateway telemetry in InfluxDB v2.
//
// Two series are written: confirmed numeric property values (brightness,
// temperature, link quality) and availability transitions. Telemetry is
// optional; Connect returns ErrDisabled when it is switched off and callers
// carry on without it.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without telemetry
//	}
//	client.WritePropertyValue("0x00158d0001a2b3c4", "brightness", 80)
package influxdb
