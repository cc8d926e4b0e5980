// Package device holds the declared device list: descriptor types, address
// derivation, the YAML/JSON loaders, schema validation and a file watcher.
//
// A device list looks like:
//
//	devices:
//	  - id: kitchen_light
//	    type: switch
//	    status_topic: stat/kitchen_light/POWER
//	    cmd_topic: cmnd/kitchen_light/power
//	  - id: garage_temp
//	    type: Temp
//	    status_topic: tele/garage/SENSOR
//	    cmd_topic: cmnd/garage/Status
//	    sensor_id: DS18B20-1
//
// Entries are validated one at a time; a bad entry is skipped and reported
// in LoadResult.Skipped without affecting the others.
package device
