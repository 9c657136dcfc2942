// Package opencv captures through OpenCV's VideoCapture. It is only built
// with the with_cv tag.
package opencv
