package assistant

import (
	"context"
	"math/rand/v2"
)

var demoAnswers = []string{
	"The moon orbits around the Earth due to the gravitational pull between the two bodies.",
	"The process of photosynthesis allows plants to convert sunlight into energy.",
	"Dinosaurs lived during the Mesozoic Era, which includes the Triassic, Jurassic, and Cretaceous periods.",
	"Atoms are made up of protons, neutrons, and electrons, which are the building blocks of matter.",
	"The water cycle is the continuous movement of water through the Earth's atmosphere.",
}

// Demo answers with a random canned STEM fact, used when no API key is configured
type Demo struct{}

func (Demo) Answer(_ context.Context, _ string) (string, error) {
	return demoAnswers[rand.IntN(len(demoAnswers))], nil
}
