// Package bluez reads peripheral bond state from the BlueZ daemon over the
// system D-Bus.
//
// The host BLE stack used for GATT traffic does not expose the bond database,
// so the probe asks BlueZ instead: org.bluez.Device1 carries "Bonded" on
// recent releases and "Paired" on older ones. Changes are observed through
// org.freedesktop.DBus.Properties.PropertiesChanged on the device object.
//
// # Limitations
//
// Device1 has no property for a pairing in progress, so the probe reports
// only BONDED or NONE. A peripheral that is pairing reads as NONE until BlueZ
// sets Bonded (or Paired), at which point Watch reports BONDED. The session
// therefore never waits in the bonding branch on this probe; bond changes
// that complete after discovery starts arrive through OnBondStateChanged.
package bluez
