// Package copyapk implements the copy-apk-with-custom-name finalizer.
//
// After an assemble stage finishes it copies every APK in the configured
// output directories to "<prefix><name>" beside the original, so tools that
// expect the default app-*.apk path keep working while people get a
// recognisable file name.
package copyapk
