package spline

// Separable 2D versions of the 1D filters. Every operation filters rows first
// and columns second; inputs are never modified unless documented otherwise.

func extractRow(data []float64, width, y int, line []float64) {
	copy(line, data[y*width:(y+1)*width])
}

func putRow(data []float64, width, y int, line []float64) {
	copy(data[y*width:(y+1)*width], line)
}

func extractColumn(data []float64, width, x int, line []float64) {
	for y := range line {
		line[y] = data[y*width+x]
	}
}

func putColumn(data []float64, width, x int, line []float64) {
	for y := range line {
		data[y*width+x] = line[y]
	}
}

// separable applies rowFn to every row and colFn to every column of data, in place
func separable(data []float64, width, height int, rowFn, colFn func([]float64)) {
	hLine := make([]float64, width)
	for y := 0; y < height; y++ {
		extractRow(data, width, y, hLine)
		rowFn(hLine)
		putRow(data, width, y, hLine)
	}
	vLine := make([]float64, height)
	for x := 0; x < width; x++ {
		extractColumn(data, width, x, vLine)
		colFn(vLine)
		putColumn(data, width, x, vLine)
	}
}

// CardinalToBasic2D returns the B-spline coefficients of the given degree that
// interpolate the cardinal samples.
func CardinalToBasic2D(cardinal []float64, width, height, degree int) []float64 {
	basic := make([]float64, len(cardinal))
	copy(basic, cardinal)
	fn := func(line []float64) { SamplesToCoefficients1D(line, degree) }
	separable(basic, width, height, fn, fn)
	return basic
}

// BasicToCardinal2D writes into cardinal the samples at the integers of the
// spline of the given degree whose coefficients are basic. The two slices may
// be the same.
func BasicToCardinal2D(basic, cardinal []float64, width, height, degree int) {
	if len(basic) == 0 {
		return
	}
	if &basic[0] != &cardinal[0] {
		copy(cardinal, basic)
	}
	fn := func(line []float64) { CoefficientsToSamples1D(line, degree) }
	separable(cardinal, width, height, fn, fn)
}

// CardinalToDual2D returns the dual representation used by the least-squares
// pyramid reduction: the cardinal samples are converted to coefficients of
// the given degree, then sampled as a spline of degree 2*degree+1.
func CardinalToDual2D(cardinal []float64, width, height, degree int) []float64 {
	dual := CardinalToBasic2D(cardinal, width, height, degree)
	BasicToCardinal2D(dual, dual, width, height, 2*degree+1)
	return dual
}

// ImageToXYGradient2D computes the exact gradients of the cubic interpolant of
// image at the integers.
func ImageToXYGradient2D(image []float64, width, height int) (xGradient, yGradient []float64) {
	xGradient = make([]float64, len(image))
	yGradient = make([]float64, len(image))

	hLine := make([]float64, width)
	for y := 0; y < height; y++ {
		extractRow(image, width, y, hLine)
		SamplesToCoefficients1D(hLine, Cubic)
		CoefficientsToGradient1D(hLine)
		putRow(xGradient, width, y, hLine)
	}

	vLine := make([]float64, height)
	for x := 0; x < width; x++ {
		extractColumn(image, width, x, vLine)
		SamplesToCoefficients1D(vLine, Cubic)
		CoefficientsToGradient1D(vLine)
		putColumn(yGradient, width, x, vLine)
	}
	return xGradient, yGradient
}

// CoefficientToXYGradient2D computes the gradients at the integers of the
// cubic spline whose coefficients are basic.
func CoefficientToXYGradient2D(basic []float64, width, height int) (xGradient, yGradient []float64) {
	xGradient = make([]float64, len(basic))
	yGradient = make([]float64, len(basic))

	hLine := make([]float64, width)
	hData := make([]float64, width)
	for y := 0; y < height; y++ {
		extractRow(basic, width, y, hLine)
		copy(hData, hLine)
		CoefficientsToGradient1D(hLine)
		CoefficientsToSamples1D(hData, Cubic)
		putRow(xGradient, width, y, hLine)
		putRow(yGradient, width, y, hData)
	}

	vLine := make([]float64, height)
	for x := 0; x < width; x++ {
		extractColumn(xGradient, width, x, vLine)
		CoefficientsToSamples1D(vLine, Cubic)
		putColumn(xGradient, width, x, vLine)

		extractColumn(yGradient, width, x, vLine)
		CoefficientsToGradient1D(vLine)
		putColumn(yGradient, width, x, vLine)
	}
	return xGradient, yGradient
}
