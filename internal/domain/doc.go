// Package domain implements the forecast bias-correction engine for river
// reaches and gauging stations.
//
// # Inputs
//
// A forecast job bundles four series for one (reach, station, initialization
// date) tuple:
//
//	simulated  - the 50-year hindcast simulation of the reach (reach COMID)
//	observed   - gauge measurements for the station (station code)
//	ensemble   - 52 forecast members, ensemble_01..ensemble_52, where member 52
//	             is the deterministic high-resolution run
//	records    - the reach's archive of past forecast first-day values
//
// Units are implicit: m³/s for streamflow reaches, m for level stations. The
// engine never converts units, so simulated and observed series fed into one
// job must agree.
//
// # Alignment
//
// Raw rows carry naive timestamps ("2006-01-02 15:04:05", RFC 3339 offsets are
// converted to UTC). Alignment truncates to whole seconds, sorts, keeps the
// first row for duplicated timestamps and floors every value below [MinValue]
// up to MinValue. Nulls become NaN and are dropped independently by each stage.
//
// # Correction
//
// Historical correction fits a per-calendar-month empirical quantile mapping
// from the simulated onto the observed distribution. Forecast values are
// clamped into the month's simulated envelope before mapping and rescaled by
// their excursion ratio afterwards:
//
//	v < min_sim:  c = F(min_sim) * v/min_sim
//	v > max_sim:  c = F(max_sim) * v/max_sim
//	otherwise:    c = F(v)
//
// # Return periods
//
// Thresholds for 2, 5, 10, 25, 50 and 100 years come from a Gumbel Type I fit
// on annual maxima of the corrected history:
//
//	y = -ln(-ln(1 - 1/rp))
//	x = y*std*0.7797 + mean - 0.45*std
//
// # Alerts
//
// Each forecast day is classified as the highest return period whose threshold
// is exceeded by at least the configured percentage of the 52 members' daily
// maxima. Results are reported in 15 lead-day slots (d01..d15) plus a rollup.
// A job that cannot be analyzed reports every slot as "unavailable", never R0.
package domain
