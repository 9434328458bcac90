/******************************************************************************
 *
 *  Description :
 *
 *    In-process counters exposed through expvar.
 *
 *****************************************************************************/

package tinode

import "expvar"

// All counters live in a single expvar map so multiple sessions in one
// process aggregate naturally.
var statsMap = expvar.NewMap("TinodeSDK")

func statsInc(name string, val int) {
	statsMap.Add(name, int64(val))
}

// StatsSnapshot returns the current counter values.
func StatsSnapshot() map[string]int64 {
	snap := make(map[string]int64)
	statsMap.Do(func(kv expvar.KeyValue) {
		if v, ok := kv.Value.(*expvar.Int); ok {
			snap[kv.Key] = v.Value()
		}
	})
	return snap
}
