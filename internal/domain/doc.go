// Package domain models NOAA Global Forecast System (GFS) model runs and the
// records decoded from their GRIB2 output.
//
// # Data Source
//
// GFS runs four times a day. Each cycle is published on the NOMADS servers
// (https://nomads.ncep.noaa.gov) and mirrored on the NCEP FTP host. A cycle
// directory looks like:
//
//	/pub/data/nccf/com/gfs/prod/gfs.20240101/00/atmos/gfs.t00z.pgrb2.0p25.f003
//
// and every GRIB2 file has a small companion ".idx" inventory, which is what
// availability probes request. Files appear progressively over roughly three
// to five hours after the nominal cycle time, lowest offsets first.
//
// # Run and Offset Conventions
//
// Run time:
//
//	A UTC instant aligned to 00, 06, 12 or 18 hours. See [RunSlot].
//	Formatted as YYYYMMDDHH in URLs, archive paths and the status API.
//
// Forecast offset:
//
//	Whole hours ahead of the run time. A complete run carries every hour
//	from 0 to 120 followed by every third hour from 123 to 384, 209 offsets
//	in total. See [Required].
//
// Forecast time:
//
//	Always run time + offset. Decoded values carry their own valid time but
//	it is overwritten with this value so storage keys stay consistent.
//
// # Field Conventions
//
// wgrib2 reports a GRIB message as a (variable, level) pair, e.g.
// ("TMP", "2 m above ground"). A [Profile] maps pairs onto short output field
// names with a linear unit conversion:
//
//	Temperatures:     K  -> °C (offset -273.15)
//	Pressure (PRMSL): Pa -> hPa (scale 0.01)
//	Cloud cover:      percent, unchanged
//
// Wind speed and direction at 10 m are derived from the u/v components when a
// profile asks for it:
//
//	speed     = sqrt(u² + v²)
//	direction = (270 - atan2(v, u)·180/π) mod 360   (meteorological, "from")
//
// Every stored value is rounded to two decimals.
//
// # Longitudes
//
// GRIB grids use 0..360 longitudes. Regions are configured in -180..180 and
// grid longitudes are normalized before containment checks. See [NormalizeLon].
package domain
