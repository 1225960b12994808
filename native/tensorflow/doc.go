// Package tensorflow bindet libtensorflow über die C-API an native.API.
//
// Die Implementierung wird nur mit dem Build-Tag "tensorflow" übersetzt
// und registriert sich dann als "tensorflow". Ohne das Tag ist das Paket
// leer, ein Blank-Import bleibt trotzdem gültig.
package tensorflow
