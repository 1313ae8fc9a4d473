package wav

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// Writer writes mono 16-bit PCM WAV files.
type Writer struct {
	file           *os.File
	sampleRate     uint32
	samplesWritten uint32
}

// NewWriter creates filename and writes a placeholder header that Close
// fills in.
func NewWriter(filename string, sampleRate uint32) (*Writer, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAV file: %w", err)
	}

	writer := &Writer{
		file:       file,
		sampleRate: sampleRate,
	}

	if err := writer.writeHeader(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	return writer, nil
}

// WriteSamples appends samples to the data chunk.
func (w *Writer) WriteSamples(samples []int16) error {
	if err := binary.Write(w.file, binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("failed to write samples: %w", err)
	}
	w.samplesWritten += uint32(len(samples))
	return nil
}

// WriteSineWave writes a sine wave of the specified frequency and duration
func (w *Writer) WriteSineWave(frequency float64, durationMs int) error {
	n := int(w.sampleRate) * durationMs / 1000
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / float64(w.sampleRate)
		samples[i] = int16(math.Sin(2*math.Pi*frequency*t) * 32767 * 0.5) // 50% amplitude
	}
	return w.WriteSamples(samples)
}

// Close finalizes the WAV file by updating the header with correct sizes
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}

	dataSize := w.samplesWritten * 2
	chunkSize := dataSize + 36

	if _, err := w.file.Seek(4, 0); err != nil {
		return fmt.Errorf("failed to seek to chunk size: %w", err)
	}
	if err := binary.Write(w.file, binary.LittleEndian, chunkSize); err != nil {
		return fmt.Errorf("failed to write chunk size: %w", err)
	}

	if _, err := w.file.Seek(40, 0); err != nil {
		return fmt.Errorf("failed to seek to data size: %w", err)
	}
	if err := binary.Write(w.file, binary.LittleEndian, dataSize); err != nil {
		return fmt.Errorf("failed to write data size: %w", err)
	}

	err := w.file.Close()
	w.file = nil
	return err
}

// writeHeader writes the 44-byte canonical header with zero sizes.
func (w *Writer) writeHeader() error {
	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], 1) // mono
	binary.LittleEndian.PutUint32(header[24:28], w.sampleRate)
	binary.LittleEndian.PutUint32(header[28:32], w.sampleRate*2)
	binary.LittleEndian.PutUint16(header[32:34], 2)
	binary.LittleEndian.PutUint16(header[34:36], 16)
	copy(header[36:40], "data")

	_, err := w.file.Write(header)
	return err
}
